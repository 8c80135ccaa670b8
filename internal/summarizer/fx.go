package summarizer

import "go.uber.org/fx"

var Module = fx.Module("summarizer",
	fx.Provide(NewClient),
)
