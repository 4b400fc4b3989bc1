// Package file provides the file. extension: local filesystem access
// for Kabap scripts. It is DANGEROUS by design — scripts get the access
// level of the running process — so the host must opt in explicitly.
package file

import (
	"os"
	"strconv"
	"strings"

	"github.com/kabaplang/kabap-go/pkg/extension"
)

const prefix = "file"

// escapeMarker protects literal backslashes while \n \r \t are expanded.
const escapeMarker = "__!*DBLBCKSLSH()__"

// entry is one Kabap file descriptor. A nil slot in the pool means the
// handle was closed.
type entry struct {
	escaped bool
	created bool
	path    string
}

// Extension implements filesystem references: file.open, file.read,
// file.write, file.append, file.delete, file.close, file.size,
// file.isnew, file.escape and file.handle.
type Extension struct {
	files   []*entry
	pointer int
}

// New creates the extension with an empty handle pool.
func New() *Extension {
	x := &Extension{}
	x.Reset()
	return x
}

// ID identifies the extension for deduplication and removal.
func (x *Extension) ID() string { return "file" }

// Register declines anything but a version 1 engine.
func (x *Extension) Register(version int, debug bool) (string, bool) {
	if version != 1 {
		return "", false
	}
	return prefix, true
}

// Reset drops every open handle.
func (x *Extension) Reset() {
	x.files = nil
	x.pointer = -1
}

// Handle processes file operation messages; unknown keys are ignored so
// another extension on the prefix can take them.
func (x *Extension) Handle(msg *extension.Message) *extension.Message {
	parts := strings.Split(strings.ToLower(msg.Name), ".")
	if len(parts) != 2 {
		msg.Result = extension.Ignored
		return msg
	}

	switch {
	case parts[1] == "handle":
		if msg.Type == extension.Read {
			msg.Value = strconv.Itoa(x.pointer + 1)
			msg.Result = extension.HandledOkay
		} else {
			n, err := strconv.Atoi(msg.Value)
			if err != nil || n <= 0 || n > len(x.files) || x.files[n-1] == nil {
				msg.Value = "File handle invalid"
				msg.Result = extension.HandledFail
			} else {
				x.pointer = n - 1
				msg.Result = extension.HandledOkay
			}
		}

	case parts[1] == "escape":
		if x.checkHandle(msg) {
			if msg.Type == extension.Read {
				msg.Value = bool01(x.files[x.pointer].escaped)
			} else {
				x.files[x.pointer].escaped = msg.Value != "0"
			}
			msg.Result = extension.HandledOkay
		}

	case parts[1] == "isnew" && msg.Type == extension.Read:
		if x.checkHandle(msg) {
			msg.Value = bool01(x.files[x.pointer].created)
			msg.Result = extension.HandledOkay
		}

	case parts[1] == "size" && msg.Type == extension.Read:
		if x.checkHandle(msg) {
			info, err := os.Stat(x.files[x.pointer].path)
			if err != nil {
				msg.Value = err.Error()
				msg.Result = extension.HandledFail
			} else {
				msg.Value = strconv.FormatInt(info.Size(), 10)
				msg.Result = extension.HandledOkay
			}
		}

	case parts[1] == "open" && msg.Type == extension.Write:
		x.open(msg)

	case parts[1] == "close" && msg.Type == extension.Read:
		if x.checkHandle(msg) {
			x.files[x.pointer] = nil
			msg.Value = "1"
			msg.Result = extension.HandledOkay
		}

	case parts[1] == "delete" && msg.Type == extension.Read:
		if x.checkHandle(msg) {
			if err := os.Remove(x.files[x.pointer].path); err != nil {
				msg.Value = "Unable to delete file"
				msg.Result = extension.HandledFail
			} else {
				x.files[x.pointer] = nil
				msg.Value = "1"
				msg.Result = extension.HandledOkay
			}
		}

	case parts[1] == "read" && msg.Type == extension.Read:
		if x.checkHandle(msg) {
			data, err := os.ReadFile(x.files[x.pointer].path)
			if err != nil {
				msg.Value = "File could not be read"
				msg.Result = extension.HandledFail
			} else {
				msg.Value = string(data)
				msg.Result = extension.HandledOkay
			}
		}

	case (parts[1] == "write" || parts[1] == "append") && msg.Type == extension.Write:
		if x.checkHandle(msg) {
			content := msg.Value
			if x.files[x.pointer].escaped {
				content = strings.NewReplacer(
					`\\`, escapeMarker,
					`\n`, "\n",
					`\r`, "\r",
					`\t`, "\t",
				).Replace(content)
				content = strings.ReplaceAll(content, escapeMarker, `\`)
			}
			if err := x.write(x.files[x.pointer].path, parts[1] == "append", content); err != nil {
				msg.Value = err.Error()
				msg.Result = extension.HandledFail
			} else {
				msg.Result = extension.HandledOkay
			}
		}

	default:
		msg.Result = extension.Ignored
	}

	return msg
}

// open creates or opens the file named by the message value and makes it
// the current handle.
func (x *Extension) open(msg *extension.Message) {
	path := strings.TrimSpace(msg.Value)
	if path == "" {
		msg.Value = "Filename cannot be empty"
		msg.Result = extension.HandledFail
		return
	}

	ent := &entry{path: path}
	info, err := os.Stat(path)
	switch {
	case err == nil:
		if info.IsDir() {
			msg.Value = "Path is not a file"
			msg.Result = extension.HandledFail
			return
		}
		if f, err := os.Open(path); err != nil {
			msg.Value = "Read permission denied"
			msg.Result = extension.HandledFail
			return
		} else {
			f.Close()
		}
	case os.IsNotExist(err):
		ent.created = true
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			msg.Value = "Create permission denied"
			msg.Result = extension.HandledFail
			return
		}
		f.Close()
	default:
		msg.Value = err.Error()
		msg.Result = extension.HandledFail
		return
	}

	x.files = append(x.files, ent)
	x.pointer = len(x.files) - 1
	msg.Result = extension.HandledOkay
}

func (x *Extension) write(path string, appendTo bool, content string) error {
	flags := os.O_CREATE | os.O_WRONLY
	if appendTo {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// checkHandle fails the message when no valid handle is selected.
func (x *Extension) checkHandle(msg *extension.Message) bool {
	if x.pointer == -1 {
		msg.Value = "File not opened"
		msg.Result = extension.HandledFail
		return false
	}
	if x.files[x.pointer] == nil {
		msg.Value = "File already closed"
		msg.Result = extension.HandledFail
		return false
	}
	return true
}

func bool01(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
