package gbp

import "fmt"

// PublishedTag is the empty tag name, meaning "the published build".
const PublishedTag = ""

const maxTagLength = 128

// ValidateTagName enforces the tag-name grammar: non-empty tags must be at
// most 128 ASCII letters/digits/"_.-", and must not start with "." or "-".
// The empty tag (PublishedTag) is always valid.
func ValidateTagName(name string) error {
	if name == PublishedTag {
		return nil
	}
	if len(name) > maxTagLength {
		return fmt.Errorf("%w: %q exceeds %d characters", ErrInvalidTagName, name, maxTagLength)
	}
	if name[0] == '.' || name[0] == '-' {
		return fmt.Errorf("%w: %q must not start with '.' or '-'", ErrInvalidTagName, name)
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			continue
		default:
			return fmt.Errorf("%w: %q contains disallowed character %q", ErrInvalidTagName, name, r)
		}
	}
	return nil
}

// TagSymlinkName is the symlink basename within a Content directory for a
// tag: "<machine>" for the published tag, "<machine>@<tag>" otherwise.
func TagSymlinkName(machine, tag string) string {
	if tag == PublishedTag {
		return machine
	}
	return machine + "@" + tag
}
