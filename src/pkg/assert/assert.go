package assert

import "fmt"

// Assert panics with a formatted message when cond does not hold.
func Assert(cond bool, args ...any) {
	if cond {
		return
	}

	if len(args) == 0 {
		panic("assertion failed")
	}

	format, ok := args[0].(string)
	if !ok {
		panic(fmt.Sprint(append([]any{"assertion failed: "}, args...)...))
	}
	panic("assertion failed: " + fmt.Sprintf(format, args[1:]...))
}
