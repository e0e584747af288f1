package router

import "fmt"

func unknownExecutorError(actionType string) error {
	return fmt.Errorf("router: no executor registered for action type %q", actionType)
}
