package prompt

import (
	"github.com/manifoldco/promptui"
)

// SelectOption represents an item in a selection list.
type SelectOption struct {
	Label       string
	Value       string
	Description string
}

func selectTemplates(withDetails bool) *promptui.SelectTemplates {
	t := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "> {{ .Label | cyan }}",
		Inactive: "  {{ .Label | white }}",
		Selected: "* {{ .Label | green }}",
	}
	if withDetails {
		t.Details = `
{{ "Description:" | faint }}	{{ .Description }}`
	}
	return t
}

// Select prompts the user to pick one option and returns its value. The
// cursor starts on the option whose value equals current.
func Select(label string, options []SelectOption, current string) (string, error) {
	start := 0
	for i, opt := range options {
		if opt.Value == current {
			start = i
			break
		}
	}

	p := promptui.Select{
		Label:     label,
		Items:     options,
		Templates: selectTemplates(len(options) > 0 && options[0].Description != ""),
		Size:      10,
		CursorPos: start,
	}

	i, _, err := p.Run()
	if err != nil {
		return "", wrapError(err)
	}
	return options[i].Value, nil
}

// MultiSelect lets the user toggle options until "Done" is picked and
// returns the selected values in option order.
func MultiSelect(label string, options []SelectOption, preselected []string) ([]string, error) {
	selected := make(map[string]bool, len(preselected))
	for _, v := range preselected {
		selected[v] = true
	}

	for {
		items := make([]string, 0, len(options)+1)
		for _, opt := range options {
			mark := "[ ]"
			if selected[opt.Value] {
				mark = "[x]"
			}
			items = append(items, mark+" "+opt.Label)
		}
		items = append(items, "Done")

		p := promptui.Select{
			Label: label,
			Items: items,
			Size:  len(items),
		}

		i, _, err := p.Run()
		if err != nil {
			return nil, wrapError(err)
		}
		if i == len(options) {
			break
		}

		v := options[i].Value
		selected[v] = !selected[v]
	}

	var result []string
	for _, opt := range options {
		if selected[opt.Value] {
			result = append(result, opt.Value)
		}
	}
	return result, nil
}
