// Package discovery implements the Frame Discovery & Injection Driver (C5):
// after a top-level navigation, it walks the frame tree and installs a
// bridge in every reachable frame.
package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"

	"github.com/verdexhq/agentbridge/internal/bridge"
	"github.com/verdexhq/agentbridge/internal/cdplog"
	"github.com/verdexhq/agentbridge/internal/cdptransport"
	"github.com/verdexhq/agentbridge/internal/failure"
)

// Run walks the current frame tree behind sess and injects the bridge into
// every frame reachable from mainFrameID. The root frame is injected
// serially and is critical: its failure fails the whole navigation, since
// no page can be snapshotted without a main-frame bridge (spec.md §4.5).
// Child frames are injected in parallel; a child's failure is classified
// and recorded in log but never fails the call. The descendants of a child
// whose injection failed are not attempted.
func Run(ctx context.Context, sess *cdptransport.Session, inj *bridge.Injector, mainFrameID cdp.FrameID, log *failure.Log, logger *cdplog.Logger) error {
	tree, err := page.GetFrameTree().Do(cdp.WithExecutor(ctx, sess))
	if err != nil {
		return fmt.Errorf("discovery: get frame tree: %w", err)
	}

	if _, err := inj.EnsureFrameState(ctx, mainFrameID); err != nil {
		return fmt.Errorf("discovery: inject main frame: %w", err)
	}

	children := tree.ChildFrames
	var wg sync.WaitGroup
	for _, child := range children {
		child := child
		wg.Add(1)
		go func() {
			defer wg.Done()
			injectSubtree(ctx, inj, child, log, logger)
		}()
	}
	wg.Wait()

	return nil
}

func injectSubtree(ctx context.Context, inj *bridge.Injector, node *page.FrameTree, log *failure.Log, logger *cdplog.Logger) {
	if node.Frame == nil {
		return
	}
	frameID := node.Frame.ID

	if _, err := inj.EnsureFrameState(ctx, frameID); err != nil {
		class := failure.Classify(err.Error())
		log.RecordInjection(failure.FrameInjectionFailure{
			FrameID:        frameID,
			Classification: class,
			IsMainFrame:    false,
			Err:            err,
		})
		if class == failure.ClassDetached {
			logger.Debugf("Discovery:injectSubtree", "fid:%v class:%s err:%v", frameID, class, err)
		} else {
			logger.Warnf("Discovery:injectSubtree", "fid:%v class:%s err:%v", frameID, class, err)
		}
		return
	}

	var wg sync.WaitGroup
	for _, child := range node.ChildFrames {
		child := child
		wg.Add(1)
		go func() {
			defer wg.Done()
			injectSubtree(ctx, inj, child, log, logger)
		}()
	}
	wg.Wait()
}
