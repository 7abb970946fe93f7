//go:build !linux

package conntrack

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/factory"
	"FlowSpectra/internal/model"
	"errors"
)

func init() {
	factory.RegisterSource("conntrack", func(cfg *config.Config) (model.Source, error) {
		return nil, errors.New("the conntrack reader is only available on linux")
	})
}
