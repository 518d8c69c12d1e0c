// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// pmscope - ZH03B Particulate Matter Sensor Tool
//
// A CLI tool for reading PM1.0, PM2.5 and PM10 concentrations from Winsen
// ZH03B sensors in streaming or request/response mode.

package main

import (
	"os"

	"github.com/Thermoquad/pmscope/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
