package usage

import (
	"github.com/clipbrief/clipbrief/internal/usage/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.ledger",
	fx.Provide(repository.Provide),
)
