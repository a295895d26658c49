package gotxm

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_IDAllocator(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		f    func(t *testing.T)
	}{
		{
			name: "firstID",
			f: func(t *testing.T) {
				allocator := NewIDAllocator(0, 0)
				assert.Equal(t, int64(1), allocator.Next(ctx))
				assert.Len(t, allocator.stripes, defaultIDStripes)
				assert.Equal(t, int64(defaultIDBlockSize), allocator.blockSize)
			},
		},
		{
			name: "sameWorker",
			f: func(t *testing.T) {
				allocator := NewIDAllocator(4, 10)
				wctx := ContextWithWorker(ctx, 2)
				assert.Equal(t, int64(1), allocator.Next(wctx))
				assert.Equal(t, int64(2), allocator.Next(wctx))
				// 其他分段申请新的号段
				assert.Equal(t, int64(11), allocator.NextFor(3))
				assert.Equal(t, int64(3), allocator.NextFor(-2))
			},
		},
		{
			name: "negativeWorker",
			f: func(t *testing.T) {
				allocator := NewIDAllocator(3, 10)
				assert.NotPanics(t, func() {
					assert.Equal(t, int64(1), allocator.NextFor(math.MinInt))
					assert.Equal(t, int64(11), allocator.NextFor(-1))
					assert.Equal(t, int64(2), allocator.NextFor(math.MinInt))
				})
			},
		},
		{
			name: "unique",
			f: func(t *testing.T) {
				allocator := NewIDAllocator(8, 16)
				var mu sync.Mutex
				seen := make(map[int64]struct{})
				var wg sync.WaitGroup
				for w := 0; w < 32; w++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						ids := make([]int64, 0, 200)
						for i := 0; i < 200; i++ {
							ids = append(ids, allocator.Next(ctx))
						}
						mu.Lock()
						defer mu.Unlock()
						for _, id := range ids {
							seen[id] = struct{}{}
						}
					}()
				}
				wg.Wait()
				assert.Len(t, seen, 32*200)
				_, zero := seen[0]
				assert.False(t, zero)
			},
		},
		{
			name: "flip",
			f: func(t *testing.T) {
				allocator := NewIDAllocator(1, 10)
				allocator.seed = math.MaxInt64 - 5
				// 正数即将耗尽时翻转为负数
				assert.Equal(t, int64(-1), allocator.NextFor(0))
				assert.Equal(t, int64(-2), allocator.NextFor(0))
				assert.True(t, allocator.descending)

				allocator = NewIDAllocator(1, 10)
				allocator.seed, allocator.descending = math.MinInt64+5, true
				assert.Equal(t, int64(1), allocator.NextFor(0))
				assert.False(t, allocator.descending)
			},
		},
		{
			name: "skipPast",
			f: func(t *testing.T) {
				allocator := NewIDAllocator(1, 10)
				allocator.skipPast(41)
				allocator.skipPast(7)
				assert.Equal(t, int64(42), allocator.NextFor(0))

				allocator = NewIDAllocator(1, 10)
				allocator.skipPast(-8)
				allocator.skipPast(-3)
				allocator.skipPast(100)
				assert.Equal(t, int64(-9), allocator.NextFor(0))
				assert.Equal(t, int64(-10), allocator.NextFor(0))

				allocator = NewIDAllocator(1, 10)
				allocator.skipPast(math.MaxInt64 - 1)
				assert.Equal(t, int64(-1), allocator.NextFor(0))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.f)
	}
}
