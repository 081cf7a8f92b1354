// Copyright (C) The Degas Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import (
	"github.com/countlab/degas"
)

func main() {
	degas.Main()
}
