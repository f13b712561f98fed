// Copyright 2022 The evm-cfg-builder Authors

// This file is part of evm-cfg-builder.
//
// evm-cfg-builder is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// evm-cfg-builder is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with evm-cfg-builder.  If not, see <https://www.gnu.org/licenses/>.


package global

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
)

var (
	ctx       context.Context
	ctxCancel context.CancelFunc
)

func init() {
	SetupLog()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		log.Info().Msg("Got interrupt...")
		Cleanup()
		os.Exit(1)
	}()
}

// Ctx is the process wide context. Cleanup cancels it.
func Ctx() context.Context {
	if ctx != nil {
		return ctx
	}
	ctx, ctxCancel = context.WithCancel(context.Background())
	RegisterCleanupTask(ctxCancel)
	return ctx
}

var cleanupTasks []func()

func RegisterCleanupTask(task func()) {
	cleanupTasks = append(cleanupTasks, task)
}

// Cleanup runs the registered tasks in reverse order of registration.
func Cleanup() {
	for i := len(cleanupTasks) - 1; i >= 0; i-- {
		cleanupTasks[i]()
	}
	cleanupTasks = nil
}
