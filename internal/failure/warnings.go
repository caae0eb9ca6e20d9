package failure

import "fmt"

// Warnings is the user-facing summary attached to a snapshot when the
// owning context's Failure Log reports a problem or the context has no
// authentication configured (spec.md §4.8).
type Warnings struct {
	InaccessibleFrames int
	AuthStatus         string
	PartialContent     bool
	Details            []string
}

// BuildWarnings derives a Warnings summary from the log's current state. It
// returns nil when there is nothing to report: no detail lines and an auth
// status of "ok". A context without configured auth always gets a summary
// with AuthStatus "unauthenticated".
func BuildWarnings(l *Log, authConfigured bool) *Warnings {
	injections, expansions, cleanups, authErr, discoveryErr := l.Snapshot()

	if len(injections) == 0 && len(expansions) == 0 && len(cleanups) == 0 &&
		authErr == nil && discoveryErr == nil && authConfigured {
		return nil
	}

	w := &Warnings{}
	var inaccessible int
	for _, f := range injections {
		if !f.IsMainFrame {
			inaccessible++
			w.Details = append(w.Details, fmt.Sprintf("frame %s could not be injected (%s)", f.FrameID, f.Classification))
		}
	}
	for _, f := range expansions {
		inaccessible++
		if f.Detached {
			w.Details = append(w.Details, fmt.Sprintf("frame %s detached during expansion", f.FrameID))
		} else {
			w.Details = append(w.Details, fmt.Sprintf("frame %s failed to expand: %v", f.FrameID, f.Err))
		}
	}
	w.InaccessibleFrames = inaccessible
	w.PartialContent = inaccessible > 0

	switch {
	case authErr != nil:
		// A context only ever reaches a snapshot with authErr set when its
		// auth load was optional (authRequired!=true) — a required load
		// failure tears the context down in identity.Manager.create before
		// any snapshot exists. So this is "no usable auth", same as never
		// having configured one, not a hard failure.
		w.AuthStatus = "unauthenticated"
		w.Details = append(w.Details, fmt.Sprintf("authentication could not be loaded: %v", authErr))
	case !authConfigured:
		w.AuthStatus = "unauthenticated"
	default:
		w.AuthStatus = "ok"
	}

	if discoveryErr != nil {
		w.Details = append(w.Details, fmt.Sprintf("frame discovery failed: %v", discoveryErr))
	}
	for _, c := range cleanups {
		w.Details = append(w.Details, fmt.Sprintf("cleanup step %q failed: %v", c.Step, c.Err))
	}

	if len(w.Details) == 0 && w.AuthStatus == "ok" {
		return nil
	}
	return w
}
