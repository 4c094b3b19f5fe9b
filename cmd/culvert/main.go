// SPDX-FileCopyrightText: 2025 Comcast Cable Communications Management, LLC
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/xmidt-org/culvert"
)

func main() {
	os.Exit(culvert.Run(os.Args[1:]))
}
