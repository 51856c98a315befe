package forensics

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/sthembisoo/api-error-monitor/monitor/types"
)

var (
	// locatorPattern matches a source location with a line number, e.g. `package:app/product.dart:12:5`
	// or `/src/app/decode.go:40`.
	locatorPattern = regexp.MustCompile(`((?:package:|file://)?[\w$.~/\\-]*[\w$-]+\.(?:dart|go|kt|java|swift|js|jsx|ts|tsx|py|rb|cs)):(\d+)(?::\d+)?`)

	// dartFrameMethod captures `Product.fromJson` from `#0      Product.fromJson (package:...)`.
	dartFrameMethod = regexp.MustCompile(`^\s*#\d+\s+(\S+)\s+\(`)

	// stackLinePatterns identify lines that belong to a stack trace rather than the message.
	stackLinePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\s*#\d+\s+`),
		regexp.MustCompile(`^\s+at\s+\S`),
		regexp.MustCompile(`^\s*goroutine\s+\d+\s+\[`),
		regexp.MustCompile(`^\s*<asynchronous suspension>\s*$`),
		regexp.MustCompile(`^\s*[\w./*()\[\]-]+\((?:0x[0-9a-f]+|\.\.\.|, )*\)\s*$`),
		regexp.MustCompile(`^\s+\S*\.(?:dart|go|kt|java|swift|js|ts|py|rb|cs):\d+`),
	}
)

// locatedLine is a corpus line that carries a source locator.
type locatedLine struct {
	index int
	frame types.StackFrame
}

// findLocators returns every line of lines that contains a source locator, in order.
func findLocators(lines []string) []locatedLine {
	var out []locatedLine
	for i, line := range lines {
		m := locatorPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil || n <= 0 {
			continue
		}
		frame := types.StackFrame{FileName: m[1], LineNumber: n}
		if mm := dartFrameMethod.FindStringSubmatch(line); mm != nil {
			frame.MethodName = mm[1]
		}
		out = append(out, locatedLine{index: i, frame: frame})
	}
	return out
}

// ParseFrames returns the source locators found in a stack trace.
func ParseFrames(stackTrace string) []types.StackFrame {
	return lo.Map(findLocators(splitLines(stackTrace)), func(l locatedLine, _ int) types.StackFrame {
		return l.frame
	})
}

// IsStackLine reports whether line looks like a stack frame.
func IsStackLine(line string) bool {
	return lo.SomeBy(stackLinePatterns, func(p *regexp.Regexp) bool {
		return p.MatchString(line)
	})
}

// StripStackLines removes stack-frame lines from a human-readable message.
func StripStackLines(msg string) string {
	kept := lo.Reject(splitLines(msg), func(line string, _ int) bool {
		return IsStackLine(line)
	})
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
}
