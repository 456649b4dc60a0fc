// Package autoload initializes the global logger from LOG_* environment
// variables as an import side effect.
package autoload

import (
	configx "github.com/ajudei/concierge/pkg/config"
	logx "github.com/ajudei/concierge/pkg/logger"
)

func init() {
	cfg := configx.MustNew[logx.Config]("LOG")
	logx.Init(*cfg)
}
