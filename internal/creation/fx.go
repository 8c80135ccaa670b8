package creation

import "go.uber.org/fx"

var Module = fx.Module("creation",
	fx.Provide(NewOrchestrator),
)
