// Package version хранит сведения о сборке order service, проставляемые
// через -ldflags при компиляции.
package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// String возвращает строку о сборке для стартового лога и /healthz.
func String() string {
	return fmt.Sprintf("order-service version=%s commit=%s date=%s", version, commit, date)
}
