package summary

import (
	"github.com/clipbrief/clipbrief/internal/summary/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("summary.store",
	fx.Provide(repository.Provide),
)
