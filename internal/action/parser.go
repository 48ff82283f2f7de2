// internal/action/parser.go
package action

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Parse converts one finalized action-command text into a Command. The
// grammar is a command name followed by a parenthesized, comma-separated
// argument list of integers and double-quoted strings:
//
//	tap(540, 1200)
//	swipe(500, 800, 500, 200, 400)
//	type("hello world")
//	finish("task complete")
//
// Command names are case-insensitive and drawn from a fixed vocabulary.
// Every failure mode (unknown command, arity mismatch, type mismatch,
// out-of-range coordinate, malformed text) yields the Invalid variant with a
// reason; Parse never panics and is deterministic for identical input.
func Parse(text string) Command {
	name, args, err := tokenize(text)
	if err != nil {
		return Invalid("%v", err)
	}

	switch strings.ToLower(name) {
	case "tap":
		return parseTap(args)
	case "swipe":
		return parseSwipe(args)
	case "long_press", "longpress":
		return parseLongPress(args)
	case "double_tap", "doubletap":
		return parseDoubleTap(args)
	case "type", "type_text":
		return parseTypeText(args)
	case "launch", "launch_app":
		return parseLaunchApp(args)
	case "key", "key_press", "keypress":
		return parseKeyPress(args)
	case "wait":
		return parseWait(args)
	case "finish":
		return parseFinish(args)
	default:
		return Invalid("unknown command %q", name)
	}
}

// argument is one tokenized parameter: either an integer or a quoted string.
type argument struct {
	isString bool
	str      string
	num      int
	raw      string
}

// tokenize splits `name(arg, arg, ...)` into the command name and its
// argument list. Only whitespace may surround the construct.
func tokenize(text string) (string, []argument, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return "", nil, fmt.Errorf("empty action text")
	}

	open := strings.IndexByte(s, '(')
	if open < 0 {
		return "", nil, fmt.Errorf("missing '(' in action %q", s)
	}
	name := strings.TrimSpace(s[:open])
	if name == "" || !isIdentifier(name) {
		return "", nil, fmt.Errorf("malformed command name %q", name)
	}

	rest := s[open+1:]
	inner, trailing, err := splitAtClosingParen(rest)
	if err != nil {
		return "", nil, err
	}
	if strings.TrimSpace(trailing) != "" {
		return "", nil, fmt.Errorf("unexpected trailing text %q after ')'", strings.TrimSpace(trailing))
	}

	args, err := parseArguments(inner)
	if err != nil {
		return "", nil, err
	}
	return name, args, nil
}

func isIdentifier(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && r != '_' {
			return false
		}
	}
	return true
}

// splitAtClosingParen finds the ')' terminating the argument list, skipping
// over quoted strings so that `type(")")` parses.
func splitAtClosingParen(s string) (inner, trailing string, err error) {
	inQuote := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inQuote {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inQuote = false
			}
			continue
		}
		switch c {
		case '"':
			inQuote = true
		case ')':
			return s[:i], s[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("missing closing ')'")
}

// parseArguments splits the inner argument text on commas outside quotes and
// types each token.
func parseArguments(inner string) ([]argument, error) {
	if strings.TrimSpace(inner) == "" {
		return nil, nil
	}

	var tokens []string
	var b strings.Builder
	inQuote := false
	escaped := false
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if inQuote {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inQuote = false
			}
			continue
		}
		switch c {
		case '"':
			inQuote = true
			b.WriteByte(c)
		case ',':
			tokens = append(tokens, b.String())
			b.Reset()
		default:
			b.WriteByte(c)
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated string literal")
	}
	tokens = append(tokens, b.String())

	args := make([]argument, 0, len(tokens))
	for _, tok := range tokens {
		t := strings.TrimSpace(tok)
		if t == "" {
			return nil, fmt.Errorf("empty argument")
		}
		if t[0] == '"' {
			unq, err := strconv.Unquote(t)
			if err != nil {
				return nil, fmt.Errorf("malformed string literal %s", t)
			}
			args = append(args, argument{isString: true, str: unq, raw: t})
			continue
		}
		n, err := strconv.Atoi(t)
		if err != nil {
			return nil, fmt.Errorf("expected integer or quoted string, got %q", t)
		}
		args = append(args, argument{num: n, raw: t})
	}
	return args, nil
}

// intArg extracts args[i] as an integer, reporting a positional error
// otherwise.
func intArg(args []argument, i int) (int, error) {
	if args[i].isString {
		return 0, fmt.Errorf("argument %d must be an integer, got string %s", i+1, args[i].raw)
	}
	return args[i].num, nil
}

func stringArg(args []argument, i int) (string, error) {
	if !args[i].isString {
		return "", fmt.Errorf("argument %d must be a quoted string, got %s", i+1, args[i].raw)
	}
	return args[i].str, nil
}

// checkCoord validates a virtual-grid coordinate against its axis bound.
func checkCoord(name string, v, max int) error {
	if v < 0 || v > max {
		return fmt.Errorf("coordinate %s=%d outside virtual range [0,%d]", name, v, max)
	}
	return nil
}

func coordPair(args []argument, i int) (x, y int, err error) {
	if x, err = intArg(args, i); err != nil {
		return 0, 0, err
	}
	if y, err = intArg(args, i+1); err != nil {
		return 0, 0, err
	}
	if err = checkCoord("x", x, VirtualWidth); err != nil {
		return 0, 0, err
	}
	if err = checkCoord("y", y, VirtualHeight); err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

func checkDuration(ms int) error {
	if ms < 1 || ms > 10000 {
		return fmt.Errorf("durationMs=%d outside range [1,10000]", ms)
	}
	return nil
}

func parseTap(args []argument) Command {
	if len(args) != 2 {
		return Invalid("tap requires 2 arguments (x, y), got %d", len(args))
	}
	x, y, err := coordPair(args, 0)
	if err != nil {
		return Invalid("tap: %v", err)
	}
	return Command{Kind: KindTap, X: x, Y: y}
}

func parseSwipe(args []argument) Command {
	if len(args) != 4 && len(args) != 5 {
		return Invalid("swipe requires 4 or 5 arguments (x1, y1, x2, y2[, durationMs]), got %d", len(args))
	}
	x1, y1, err := coordPair(args, 0)
	if err != nil {
		return Invalid("swipe: %v", err)
	}
	x2, y2, err := coordPair(args, 2)
	if err != nil {
		return Invalid("swipe: %v", err)
	}
	dur := DefaultSwipeDurationMs
	if len(args) == 5 {
		if dur, err = intArg(args, 4); err != nil {
			return Invalid("swipe: %v", err)
		}
		if err = checkDuration(dur); err != nil {
			return Invalid("swipe: %v", err)
		}
	}
	return Command{Kind: KindSwipe, X: x1, Y: y1, X2: x2, Y2: y2, DurationMs: dur}
}

func parseLongPress(args []argument) Command {
	if len(args) != 2 && len(args) != 3 {
		return Invalid("long_press requires 2 or 3 arguments (x, y[, durationMs]), got %d", len(args))
	}
	x, y, err := coordPair(args, 0)
	if err != nil {
		return Invalid("long_press: %v", err)
	}
	dur := DefaultLongPressDurationMs
	if len(args) == 3 {
		if dur, err = intArg(args, 2); err != nil {
			return Invalid("long_press: %v", err)
		}
		if err = checkDuration(dur); err != nil {
			return Invalid("long_press: %v", err)
		}
	}
	return Command{Kind: KindLongPress, X: x, Y: y, DurationMs: dur}
}

func parseDoubleTap(args []argument) Command {
	if len(args) != 2 {
		return Invalid("double_tap requires 2 arguments (x, y), got %d", len(args))
	}
	x, y, err := coordPair(args, 0)
	if err != nil {
		return Invalid("double_tap: %v", err)
	}
	return Command{Kind: KindDoubleTap, X: x, Y: y}
}

func parseTypeText(args []argument) Command {
	if len(args) != 1 {
		return Invalid("type requires 1 argument (text), got %d", len(args))
	}
	text, err := stringArg(args, 0)
	if err != nil {
		return Invalid("type: %v", err)
	}
	return Command{Kind: KindTypeText, Text: text}
}

func parseLaunchApp(args []argument) Command {
	if len(args) != 1 {
		return Invalid("launch requires 1 argument (appName), got %d", len(args))
	}
	name, err := stringArg(args, 0)
	if err != nil {
		return Invalid("launch: %v", err)
	}
	if strings.TrimSpace(name) == "" {
		return Invalid("launch: appName must not be empty")
	}
	return Command{Kind: KindLaunchApp, AppName: name}
}

func parseKeyPress(args []argument) Command {
	if len(args) != 1 {
		return Invalid("key requires 1 argument (keyCode or key name), got %d", len(args))
	}
	if args[0].isString {
		code, ok := KeyCodeForName(args[0].str)
		if !ok {
			return Invalid("key: unknown key name %q", args[0].str)
		}
		return Command{Kind: KindKeyPress, KeyCode: code}
	}
	code := args[0].num
	if code < 0 || code > 1023 {
		return Invalid("key: keyCode=%d outside range [0,1023]", code)
	}
	return Command{Kind: KindKeyPress, KeyCode: code}
}

func parseWait(args []argument) Command {
	if len(args) != 1 {
		return Invalid("wait requires 1 argument (ms), got %d", len(args))
	}
	ms, err := intArg(args, 0)
	if err != nil {
		return Invalid("wait: %v", err)
	}
	if ms < 0 || ms > MaxWaitMs {
		return Invalid("wait: ms=%d outside range [0,%d]", ms, MaxWaitMs)
	}
	return Command{Kind: KindWait, DurationMs: ms}
}

func parseFinish(args []argument) Command {
	switch len(args) {
	case 0:
		return Command{Kind: KindFinish, Message: "task complete"}
	case 1:
		msg, err := stringArg(args, 0)
		if err != nil {
			return Invalid("finish: %v", err)
		}
		return Command{Kind: KindFinish, Message: msg}
	default:
		return Invalid("finish requires at most 1 argument (message), got %d", len(args))
	}
}
