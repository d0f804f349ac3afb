package device

import "fmt"

// FunctionExecutionFailedError reports a device function that cannot be
// carried out.
type FunctionExecutionFailedError struct {
	FuncName string
	Message  string
}

func (e *FunctionExecutionFailedError) Error() string {
	return fmt.Sprintf("function %s failed: %s", e.FuncName, e.Message)
}
