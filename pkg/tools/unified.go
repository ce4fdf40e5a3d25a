package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// UnifiedTool merges several tools registered under one name into a single
// tool dispatched by a required "action" argument.
type UnifiedTool struct {
	name     string
	variants map[string]Tool
}

func NewUnifiedTool(name string, variants ...Tool) (*UnifiedTool, error) {
	u := &UnifiedTool{
		name:     name,
		variants: make(map[string]Tool),
	}
	for _, v := range variants {
		if err := u.AddVariant(v); err != nil {
			return nil, err
		}
	}
	return u, nil
}

func (u *UnifiedTool) AddVariant(tool Tool) error {
	action := tool.GetInfo().Action
	if action == "" {
		action = tool.GetName()
	}
	if _, exists := u.variants[action]; exists {
		return fmt.Errorf("duplicate action '%s' for unified tool '%s'", action, u.name)
	}
	u.variants[action] = tool
	return nil
}

func (u *UnifiedTool) GetName() string {
	return u.name
}

func (u *UnifiedTool) Actions() []string {
	actions := make([]string, 0, len(u.variants))
	for action := range u.variants {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	return actions
}

// GetInfo synthesizes a schema with a required action discriminator plus the
// union of all variant parameters, each rendered optional.
func (u *UnifiedTool) GetInfo() ToolInfo {
	actions := u.Actions()

	properties := map[string]interface{}{
		"action": map[string]interface{}{
			"type":        "string",
			"enum":        actions,
			"description": "Which operation to perform.",
		},
	}

	var descriptions []string
	userAction := false
	for _, action := range actions {
		variant := u.variants[action]
		info := variant.GetInfo()
		if info.UserAction {
			userAction = true
		}
		if info.Description != "" {
			descriptions = append(descriptions, fmt.Sprintf("%s: %s", action, info.Description))
		}

		variantProps, _ := info.Parameters["properties"].(map[string]interface{})
		for paramName, paramSchema := range variantProps {
			if _, taken := properties[paramName]; !taken {
				properties[paramName] = paramSchema
			}
		}
	}

	return ToolInfo{
		Name:        u.name,
		Description: strings.Join(descriptions, "\n"),
		UserAction:  userAction,
		Parameters: map[string]interface{}{
			"type":       "object",
			"properties": properties,
			"required":   []string{"action"},
		},
	}
}

func (u *UnifiedTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	action, _ := args["action"].(string)
	variant, ok := u.variants[action]
	if !ok {
		return map[string]interface{}{
			"error":             fmt.Sprintf("unknown action '%s' for tool '%s'", action, u.name),
			"available_actions": u.Actions(),
		}, nil
	}

	forwarded := make(map[string]interface{}, len(args))
	for k, v := range args {
		if k != "action" {
			forwarded[k] = v
		}
	}

	return variant.Execute(ctx, forwarded)
}
