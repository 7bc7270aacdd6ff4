// Copyright 2020 The Swarm Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ratelimit

import "time"

const MaxKeys = maxKeys

func (l *Limiter) SetTimeFunc(f func() time.Time) {
	l.now = f
}
