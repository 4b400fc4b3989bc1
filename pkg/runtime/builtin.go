package runtime

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/kabaplang/kabap-go/pkg/extension"
	"github.com/kabaplang/kabap-go/pkg/number"
)

// kabapExtension is the engine's own extension, always registered under
// the kabap prefix. It exposes the version, the live decimal scale and a
// random number source.
type kabapExtension struct {
	engine *Engine
}

func (x *kabapExtension) ID() string { return "kabap" }

func (x *kabapExtension) Register(version int, debug bool) (string, bool) {
	return "kabap", true
}

func (x *kabapExtension) Reset() {}

func (x *kabapExtension) Handle(msg *extension.Message) *extension.Message {
	parts := strings.Split(strings.ToLower(msg.Name), ".")
	if len(parts) != 2 {
		msg.Result = extension.Ignored
		return msg
	}

	switch parts[1] {
	case "version":
		if msg.Type == extension.Read {
			msg.Value = fmt.Sprintf("%d.%d", VersionMajor, VersionMinor)
			msg.Result = extension.HandledOkay
		} else {
			msg.Value = msg.Name + " is read only"
			msg.Result = extension.HandledFail
		}
	case "scale":
		if msg.Type == extension.Write {
			x.engine.ScaleSet(int(number.Extract(msg.Value, -1)))
		} else {
			msg.Value = strconv.Itoa(x.engine.scale)
		}
		msg.Result = extension.HandledOkay
	case "random":
		if msg.Type == extension.Read {
			msg.Value = strconv.Itoa(rand.IntN(10000))
			msg.Result = extension.HandledOkay
		} else {
			msg.Value = msg.Name + " is read only"
			msg.Result = extension.HandledFail
		}
	default:
		msg.Result = extension.Ignored
	}

	return msg
}
