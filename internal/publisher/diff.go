package publisher

import (
	"context"
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/enku/gbp/internal/gbp"
)

// ChangeState classifies one line of a DiffBinpkgs result. CHANGED is part
// of the contract but, matching the line-level differ this is grounded on,
// is never actually emitted: a package whose build id changes surfaces as
// a REMOVED line for the old cpvb plus an ADDED line for the new one.
type ChangeState string

const (
	ChangeAdded   ChangeState = "ADDED"
	ChangeRemoved ChangeState = "REMOVED"
	ChangeChanged ChangeState = "CHANGED"
)

// Change is one line of a binpkgs diff between two builds.
type Change struct {
	Item  string
	State ChangeState
}

// DiffBinpkgs compares two builds' package cpvb lists and reports the
// classic +/- line diff, dropping unchanged lines. left == right always
// yields an empty diff without touching storage.
func (p *Publisher) DiffBinpkgs(ctx context.Context, left, right gbp.Build) ([]Change, error) {
	if left == right {
		return nil, nil
	}

	leftPkgs, err := p.Store.GetPackages(left)
	if err != nil {
		return nil, fmt.Errorf("publisher: diff binpkgs: left packages: %w", err)
	}
	rightPkgs, err := p.Store.GetPackages(right)
	if err != nil {
		return nil, fmt.Errorf("publisher: diff binpkgs: right packages: %w", err)
	}

	leftText := cpvbText(leftPkgs)
	rightText := cpvbText(rightPkgs)

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(leftText, rightText)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)

	var changes []Change
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			changes = append(changes, lineChanges(d.Text, ChangeRemoved)...)
		case diffmatchpatch.DiffInsert:
			changes = append(changes, lineChanges(d.Text, ChangeAdded)...)
		}
	}
	return changes, nil
}

func cpvbText(pkgs []gbp.Package) string {
	var b strings.Builder
	for _, p := range pkgs {
		b.WriteString(p.CPVB())
		b.WriteByte('\n')
	}
	return b.String()
}

func lineChanges(text string, state ChangeState) []Change {
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	changes := make([]Change, 0, len(lines))
	for _, l := range lines {
		if l == "" {
			continue
		}
		changes = append(changes, Change{Item: l, State: state})
	}
	return changes
}
