// Copyright 2025 The fusekit Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOOrder(t *testing.T) {
	q := New[int]()
	for i := 0; i < 100; i++ {
		require.True(t, q.Push(i))
	}

	for i := 0; i < 100; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
}

func TestCloseDrainsThenReportsClosed(t *testing.T) {
	q := New[string]()
	q.Push("a")
	q.Push("b")
	q.Close()

	// Pending items survive the close.
	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "a", v)

	v, ok = q.Pop()
	require.True(t, ok)
	assert.Equal(t, "b", v)

	_, ok = q.Pop()
	assert.False(t, ok)

	// Further pushes are refused.
	assert.False(t, q.Push("c"))
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := New[int]()

	done := make(chan int)
	go func() {
		v, _ := q.Pop()
		done <- v
	}()

	q.Push(7)
	assert.Equal(t, 7, <-done)
}

func TestConcurrentProducers(t *testing.T) {
	q := New[int]()

	const producers = 8
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(1)
			}
		}()
	}

	wg.Wait()
	q.Close()

	var total int
	for {
		v, ok := q.Pop()
		if !ok {
			break
		}
		total += v
	}

	assert.Equal(t, producers*perProducer, total)
}
