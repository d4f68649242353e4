package reconciler

import (
	"fmt"
	"strings"

	"github.com/shaban/fxhost/plugins"
)

// ActionKind tags an Action.
type ActionKind int

const (
	ActionAdd ActionKind = iota + 1
	ActionRemove
	ActionMoveUp
	ActionMoveDown
	ActionBypass
	ActionEnable
	ActionToggleBypass
	ActionClearAll
	ActionRebuild
)

var actionNames = map[ActionKind]string{
	ActionAdd:          "add",
	ActionRemove:       "remove",
	ActionMoveUp:       "move_up",
	ActionMoveDown:     "move_down",
	ActionBypass:       "bypass",
	ActionEnable:       "enable",
	ActionToggleBypass: "toggle_bypass",
	ActionClearAll:     "clear_all",
	ActionRebuild:      "rebuild",
}

func (k ActionKind) String() string {
	if s, ok := actionNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ActionKind(%d)", int(k))
}

// MarshalText encodes the kind by name.
func (k ActionKind) MarshalText() ([]byte, error) {
	if _, ok := actionNames[k]; !ok {
		return nil, fmt.Errorf("unknown action kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *ActionKind) UnmarshalText(b []byte) error {
	kind, err := ParseActionKind(string(b))
	if err != nil {
		return err
	}
	*k = kind
	return nil
}

// ParseActionKind matches an action name case-insensitively; "-" and "_" are equivalent.
func ParseActionKind(s string) (ActionKind, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for k, name := range actionNames {
		if name == norm {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown action %q", s)
}

// Action is one user command on the chain. Index is used by the positional
// kinds and Key by ActionAdd.
type Action struct {
	Kind  ActionKind  `json:"kind"`
	Index int         `json:"index,omitempty"`
	Key   plugins.Key `json:"key,omitempty"`
}

// Validate checks that the fields the kind needs are present.
func (a Action) Validate() error {
	switch a.Kind {
	case ActionAdd:
		if a.Key == "" {
			return fmt.Errorf("action %s: missing key", a.Kind)
		}
	case ActionRemove, ActionMoveUp, ActionMoveDown, ActionBypass, ActionEnable, ActionToggleBypass:
		if a.Index < 0 {
			return fmt.Errorf("action %s: %w: invalid index %d", a.Kind, ErrIndexOutOfRange, a.Index)
		}
	case ActionClearAll, ActionRebuild:
	default:
		return fmt.Errorf("unknown action kind %d", int(a.Kind))
	}
	return nil
}

func (a Action) String() string {
	switch a.Kind {
	case ActionAdd:
		return fmt.Sprintf("%s %s", a.Kind, a.Key)
	case ActionClearAll, ActionRebuild:
		return a.Kind.String()
	default:
		return fmt.Sprintf("%s #%d", a.Kind, a.Index)
	}
}

// Convenience constructors.
func Add(key plugins.Key) Action { return Action{Kind: ActionAdd, Key: key} }
func Remove(i int) Action        { return Action{Kind: ActionRemove, Index: i} }
func MoveUp(i int) Action        { return Action{Kind: ActionMoveUp, Index: i} }
func MoveDown(i int) Action      { return Action{Kind: ActionMoveDown, Index: i} }
func Bypass(i int, on bool) Action {
	if on {
		return Action{Kind: ActionBypass, Index: i}
	}
	return Action{Kind: ActionEnable, Index: i}
}
func ToggleBypass(i int) Action { return Action{Kind: ActionToggleBypass, Index: i} }
func ClearAll() Action          { return Action{Kind: ActionClearAll} }
