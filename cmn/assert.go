package cmn

import "fmt"

// Assert panics if cond is false. Used for invariants that must never be
// violated by correct callers (e.g. lock discipline, counter bounds) as
// opposed to recoverable runtime errors, which are reported via model.Error.
func Assert(cond bool) {
	if !cond {
		panic("assertion failed")
	}
}

// AssertMsg is Assert with an explanatory message.
func AssertMsg(cond bool, msg string) {
	if !cond {
		panic(msg)
	}
}

// AssertNoErr panics if err is non-nil, annotated with msg.
func AssertNoErr(err error, msg string) {
	if err != nil {
		panic(fmt.Sprintf("%s: %v", msg, err))
	}
}
