package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/clipbrief/clipbrief/internal/admission"
	"github.com/clipbrief/clipbrief/internal/clock"
	"github.com/clipbrief/clipbrief/internal/config"
	"github.com/clipbrief/clipbrief/internal/creation"
	"github.com/clipbrief/clipbrief/internal/lock"
	"github.com/clipbrief/clipbrief/internal/migration"
	"github.com/clipbrief/clipbrief/internal/observability"
	"github.com/clipbrief/clipbrief/internal/server"
	"github.com/clipbrief/clipbrief/internal/summarizer"
	"github.com/clipbrief/clipbrief/internal/summary"
	"github.com/clipbrief/clipbrief/internal/usage"
	"github.com/clipbrief/clipbrief/internal/user"
	"github.com/clipbrief/clipbrief/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		lock.Module,

		// Domains
		user.Module,
		usage.Module,
		summary.Module,
		admission.Module,
		creation.Module,
		summarizer.Module,

		migration.Module,
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
