package index

import (
	"context"
	"fmt"

	"slobstore/pkg/slob"
	"slobstore/pkg/types"

	"golang.org/x/sync/errgroup"
)

// Fanout 并发地把同一条更新推送给多个外部索引，任意一个失败即失败
type Fanout []slob.IndexManager

func (f Fanout) Update(ctx context.Context, id types.SlobID, u slob.IndexUpdate) error {
	g, ctx := errgroup.WithContext(ctx)
	for i, target := range f {
		g.Go(func() error {
			if err := target.Update(ctx, id, u); err != nil {
				return fmt.Errorf("index target %d: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}
