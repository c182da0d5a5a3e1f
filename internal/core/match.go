package core

import (
	"context"
	"fmt"
	"strings"
)

// MatchMembers resolves every row to a member with one strategy for the whole
// file. Rows with no identity value are left unmatched without a lookup; they
// already carry a parse error. More than one directory hit is never resolved
// by guessing: the row stays unmatched and gets an ambiguity error.
//
// The input rows are not modified. A directory error aborts the stage.
func MatchMembers(ctx context.Context, rows []ParsedRow, strategy MatchStrategy, dir MemberDirectory) ([]ParsedRow, error) {
	if !strategy.Valid() {
		return nil, &invalidStrategyError{value: string(strategy)}
	}

	out := cloneRows(rows)
	memo := make(map[string][]Member)

	for i := range out {
		row := &out[i]
		row.MemberID = ""
		row.MatchedMemberName = ""
		row.MemberMatched = false

		raw, key := matchKey(*row, strategy)
		if key == "" {
			continue
		}

		hits, seen := memo[key]
		if !seen {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			var err error
			hits, err = lookupMember(ctx, dir, strategy, key)
			if err != nil {
				return nil, fmt.Errorf("match members by %s: lookup %q: %w", strategy, raw, err)
			}
			memo[key] = hits
		}

		switch len(hits) {
		case 0:
			// Unmatched is informational, not an error.
		case 1:
			row.MemberID = hits[0].ID
			row.MatchedMemberName = hits[0].DisplayName()
			row.MemberMatched = true
		default:
			row.addError("ambiguous %s match: %d members match %q", strategyLabel(strategy), len(hits), raw)
		}
	}
	return out, nil
}

// matchKey returns the identity value as written and its normalized lookup key.
func matchKey(row ParsedRow, strategy MatchStrategy) (raw, key string) {
	switch strategy {
	case MatchByEmail:
		return row.Email, NormalizeEmail(row.Email)
	case MatchByBadge:
		return row.BadgeNumber, strings.TrimSpace(row.BadgeNumber)
	case MatchByName:
		return row.Name, NormalizeKey(row.Name)
	}
	return "", ""
}

func lookupMember(ctx context.Context, dir MemberDirectory, strategy MatchStrategy, key string) ([]Member, error) {
	switch strategy {
	case MatchByEmail:
		return dir.LookupByEmail(ctx, key)
	case MatchByBadge:
		return dir.LookupByBadge(ctx, key)
	default:
		return dir.LookupByName(ctx, key)
	}
}

func strategyLabel(s MatchStrategy) string {
	if s == MatchByBadge {
		return "badge number"
	}
	return string(s)
}

// DirectorySnapshot is an in-memory MemberDirectory built from a member list.
type DirectorySnapshot struct {
	byEmail map[string][]Member
	byBadge map[string][]Member
	byName  map[string][]Member
}

// NewDirectorySnapshot indexes members for all three strategies.
func NewDirectorySnapshot(members []Member) *DirectorySnapshot {
	d := &DirectorySnapshot{
		byEmail: make(map[string][]Member),
		byBadge: make(map[string][]Member),
		byName:  make(map[string][]Member),
	}
	for _, m := range members {
		if k := NormalizeEmail(m.Email); k != "" {
			d.byEmail[k] = append(d.byEmail[k], m)
		}
		if k := strings.TrimSpace(m.BadgeNumber); k != "" {
			d.byBadge[k] = append(d.byBadge[k], m)
		}
		if k := NormalizeKey(m.FirstName + " " + m.LastName); k != "" {
			d.byName[k] = append(d.byName[k], m)
		}
	}
	return d
}

func (d *DirectorySnapshot) LookupByEmail(_ context.Context, email string) ([]Member, error) {
	return d.byEmail[NormalizeEmail(email)], nil
}

func (d *DirectorySnapshot) LookupByBadge(_ context.Context, badge string) ([]Member, error) {
	return d.byBadge[strings.TrimSpace(badge)], nil
}

func (d *DirectorySnapshot) LookupByName(_ context.Context, fullName string) ([]Member, error) {
	return d.byName[NormalizeKey(fullName)], nil
}
