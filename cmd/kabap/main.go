// Package main is the Kabap command line entry point.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kabaplang/kabap-go/pkg/api"
	"github.com/kabaplang/kabap-go/pkg/config"
	extfile "github.com/kabaplang/kabap-go/pkg/ext/file"
	extnet "github.com/kabaplang/kabap-go/pkg/ext/net"
	"github.com/kabaplang/kabap-go/pkg/runtime"
	"github.com/kabaplang/kabap-go/pkg/store"
)

// Shell exit codes.
const (
	exitOK         = 0
	exitScriptErr  = 1
	exitUsage      = 2
	exitNoFile     = 3
	exitFileErr    = 4
	exitPermDenied = 13
)

// helloScript is the internal example run by --hello.
const helloScript = "$answer = 2 + 2;\nreturn = \"Hello world! 2+2=\" << $answer;"

var rootCmd = &cobra.Command{
	Use:          "kabap",
	Short:        "Kabap embeddable scripting engine",
	SilenceUsage: true,
	Run:          runRoot,
}

var runCmd = &cobra.Command{
	Use:   "run <sourcefile>",
	Short: "Execute a Kabap script",
	Args:  cobra.ExactArgs(1),
	Run:   runScript,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Kabap REST execution service",
	Run:   runServe,
}

func init() {
	rootCmd.Version = fmt.Sprintf("%d.%d", runtime.VersionMajor, runtime.VersionMinor)
	rootCmd.SetVersionTemplate("Kabap for Go (v {{.Version}})\n")

	rootCmd.Flags().Bool("v", false, "Show version information")
	rootCmd.Flags().Bool("hello", false, "Run internal example script")

	runCmd.Flags().String("config", "", "Path to kabap.yaml configuration")

	serveCmd.Flags().String("config", "", "Path to kabap.yaml configuration")
	serveCmd.Flags().Int("port", 0, "HTTP server port (default 8700, env PORT)")
	serveCmd.Flags().String("host", "", "Bind address (default 0.0.0.0, env HOST)")

	rootCmd.AddCommand(runCmd, serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitUsage)
	}
}

func runRoot(cmd *cobra.Command, args []string) {
	if hello, _ := cmd.Flags().GetBool("hello"); hello {
		os.Exit(execute(runtime.New(), helloScript))
	}

	fmt.Printf("Kabap for Go (v %d.%d)\n\n", runtime.VersionMajor, runtime.VersionMinor)

	if v, _ := cmd.Flags().GetBool("v"); !v {
		fmt.Println("Usage:  kabap run sourcefile")
		fmt.Println("        (to execute a Kabap script)")
		fmt.Println("")
		fmt.Println("Options:")
		fmt.Println("    --help     Show this help")
		fmt.Println("       --v     Show version information")
		fmt.Println("   --hello     Run internal example script")
	}

	os.Exit(exitUsage)
}

func runScript(cmd *cobra.Command, args []string) {
	path := args[0]

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		fmt.Fprintln(os.Stderr, "File does not exist: "+path)
		os.Exit(exitNoFile)
	case os.IsPermission(err):
		fmt.Fprintln(os.Stderr, "File read permission denied: "+path)
		os.Exit(exitPermDenied)
	case err != nil:
		fmt.Fprintln(os.Stderr, "File unknown error: "+path)
		os.Exit(exitFileErr)
	}

	engine := runtime.New()
	if cfgPath, _ := cmd.Flags().GetString("config"); cfgPath != "" {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitUsage)
		}
		applyConfig(engine, cfg)
	}

	os.Exit(execute(engine, string(data)))
}

// execute runs a script and relays its output to the shell. The
// engine's scale and watchdog are kept across Script, which would
// otherwise reset them to the defaults.
func execute(engine *runtime.Engine, source string) int {
	scale, watchdog := engine.ScaleGet(), engine.WatchdogGet()
	ok := engine.Script(source)
	if ok {
		engine.ScaleSet(scale)
		engine.WatchdogSet(watchdog)
	}
	ok = ok && engine.Run()

	if engine.Stdout != "" {
		fmt.Println(engine.Stdout)
	}
	if engine.Stderr != "" {
		fmt.Println(engine.Stderr)
	}

	if !ok {
		return exitScriptErr
	}
	return exitOK
}

func applyConfig(engine *runtime.Engine, cfg config.Config) {
	if cfg.Scale >= 0 {
		engine.ScaleSet(cfg.Scale)
	}
	if cfg.Watchdog >= 0 {
		engine.WatchdogSet(cfg.Watchdog)
	}
	for _, name := range cfg.Extensions {
		switch name {
		case "file":
			engine.ExtensionAdd(extfile.New())
		case "net":
			engine.ExtensionAdd(extnet.New(nil))
		}
	}
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := config.Default()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(exitUsage)
		}
		cfg = loaded
	}

	if v := os.Getenv("HOST"); v != "" {
		cfg.Host = v
	}
	if v, _ := cmd.Flags().GetString("host"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Port)
	}
	if v, _ := cmd.Flags().GetInt("port"); v != 0 {
		cfg.Port = v
	}

	server := api.New(cfg, store.New())
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down kabap service...")
		if err := server.Shutdown(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}()

	log.Printf("Kabap service listening on %s (extensions=%v)", addr, cfg.Extensions)
	if err := server.Listen(addr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
