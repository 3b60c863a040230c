package graphicscore

import (
	"fmt"
	"runtime"

	vk "github.com/vulkan-go/vulkan"
)

// ResultCode is the sum type returned by every fallible initialization API in the
// package (spec.md §7). Callers branch on ResultCode, not on string matching.
type ResultCode int

const (
	Success ResultCode = iota
	Abort
	InvalidOperation
	NotFound
	UnknownError
)

func (r ResultCode) String() string {
	switch r {
	case Success:
		return "Success"
	case Abort:
		return "Abort"
	case InvalidOperation:
		return "InvalidOperation"
	case NotFound:
		return "NotFound"
	default:
		return "UnknownError"
	}
}

// resultError pairs a ResultCode with the Vulkan return code and call site that produced
// it, mirroring the teacher's newError/newStackFrame pair in errors.go.
type resultError struct {
	Code ResultCode
	ret  vk.Result
	site string
}

func (e *resultError) Error() string {
	return fmt.Sprintf("graphicscore: %s (vk.Result=%d) at %s", e.Code, e.ret, e.site)
}

func isError(ret vk.Result) bool {
	return ret != vk.Success && ret != vk.Incomplete
}

// isPresentRecoverable reports the one pair of codes spec.md §7 allows Present() to
// surface to its caller instead of treating as fatal.
func isPresentRecoverable(ret vk.Result) bool {
	return ret == vk.ErrorOutOfDate || ret == vk.Suboptimal
}

// newError classifies a non-success vk.Result into a ResultCode and records the
// immediate caller.
func newError(ret vk.Result) error {
	if !isError(ret) {
		return nil
	}
	site := "unknown"
	if pc, file, line, ok := runtime.Caller(1); ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			site = fmt.Sprintf("%s (%s:%d)", fn.Name(), file, line)
		}
	}
	code := UnknownError
	switch ret {
	case vk.ErrorOutOfDate, vk.Suboptimal:
		code = Abort
	case vk.ErrorExtensionNotPresent, vk.ErrorFeatureNotPresent, vk.ErrorLayerNotPresent:
		code = NotFound
	case vk.ErrorInitializationFailed, vk.ErrorDeviceLost:
		code = Abort
	}
	return &resultError{Code: code, ret: ret, site: site}
}

// orPanic keeps the teacher's panic-then-recover idiom for the narrow band of
// initialization helpers (extension/layer enumeration) that run before any logger or
// device exists to report a Fatal() through.
func orPanic(err error, finalizers ...func()) {
	if err != nil {
		for _, fn := range finalizers {
			fn()
		}
		panic(err)
	}
}

func checkErr(err *error) {
	if v := recover(); v != nil {
		*err = fmt.Errorf("%+v", v)
	}
}

// must terminates the component's logger at Fatal level if ret signals failure. Used at
// call sites past initialization, where a componentLogger already exists and a failure
// is unrecoverable (buffer reset, queue submit, pool allocation).
func must(ret vk.Result, log *componentLogger, msg string) {
	if isError(ret) {
		log.Fatal().Err(newError(ret)).Msg(msg)
	}
}
