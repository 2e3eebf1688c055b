package quickjs

import (
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"
)

// stackFrameRe matches the frame formats produced by QuickJS and goja:
//
//	at f (file.js:12:5)
//	at <eval> (file.js:12)
//	at file.js:12:5(34)
//	at f (file.js:12:5(34))
var stackFrameRe = regexp2.MustCompile(`^at (?:(.*?) \()?([^()]*?):(\d+)(?::(\d+))?(?:\(\d+\))?\)?$`, regexp2.None)

// StackFrame is one parsed line of a JavaScript stack trace.
type StackFrame struct {
	Function   string
	FileName   string
	LineNumber int
	Column     int
}

// ParseStack parses the frames of a stack trace. Lines that are not frames, such as the
// leading "Name: message" line or native frames, are skipped.
func ParseStack(stack string) []StackFrame {
	var frames []StackFrame
	for _, line := range strings.Split(stack, "\n") {
		m, err := stackFrameRe.FindStringMatch(strings.TrimSpace(line))
		if err != nil || m == nil {
			continue
		}
		f := StackFrame{Function: group(*m, 1), FileName: group(*m, 2)}
		f.LineNumber, _ = strconv.Atoi(group(*m, 3))
		if col := group(*m, 4); col != "" {
			f.Column, _ = strconv.Atoi(col)
		}
		frames = append(frames, f)
	}
	return frames
}

// firstFrame returns the file and line of the innermost frame of stack.
func firstFrame(stack string) (string, int) {
	frames := ParseStack(stack)
	if len(frames) == 0 {
		return "", 0
	}
	return frames[0].FileName, frames[0].LineNumber
}
