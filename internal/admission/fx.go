package admission

import (
	"github.com/clipbrief/clipbrief/internal/admission/service"
	"go.uber.org/fx"
)

var Module = fx.Module("admission.service",
	fx.Provide(service.NewService),
)
