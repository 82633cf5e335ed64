package prompt

import (
	"github.com/manifoldco/promptui"
)

// Input prompts for text input prefilled with defaultValue. validate may be
// nil.
func Input(label, defaultValue string, validate func(string) error) (string, error) {
	p := promptui.Prompt{
		Label:    label,
		Default:  defaultValue,
		Validate: validate,
	}

	result, err := p.Run()
	return result, wrapError(err)
}
