package recipe

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// NotSpecified is stored in optional metadata fields the model left out.
const NotSpecified = "Not specified"

// DefaultNotFoodMessage is used when the model says the image is not food but
// gives no message of its own.
const DefaultNotFoodMessage = "This image does not appear to contain food. Please upload an image of food."

// Record represents the structured recipe extracted from a model reply.
type Record struct {
	IsFood      bool     `json:"isFood"`
	FoodName    string   `json:"foodName"`
	Ingredients []string `json:"ingredients"`
	Steps       []string `json:"recipe"`
	CookingTime string   `json:"cookingTime"`
	Difficulty  string   `json:"difficulty"`
	Cuisine     string   `json:"cuisine"`
}

// UnmarshalJSON implements the json.Unmarshaler interface for Record.
// Steps are read from "recipe" or "steps", and a bare string is accepted as a
// single step.
func (r *Record) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}

	type Alias Record // Create an alias to avoid infinite recursion
	aux := struct {
		Recipe      stringList `json:"recipe"`
		Steps       stringList `json:"steps"`
		CookingTime metaString `json:"cookingTime"`
		Difficulty  metaString `json:"difficulty"`
		Cuisine     metaString `json:"cuisine"`
		*Alias
	}{
		Alias: (*Alias)(r),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	r.Steps = aux.Recipe
	if len(r.Steps) == 0 {
		r.Steps = aux.Steps
	}
	r.CookingTime = string(aux.CookingTime)
	r.Difficulty = string(aux.Difficulty)
	r.Cuisine = string(aux.Cuisine)
	return nil
}

// Missing reports the names of required fields that are absent or empty.
func (r *Record) Missing() []string {
	var missing []string
	if strings.TrimSpace(r.FoodName) == "" {
		missing = append(missing, "foodName")
	}
	if len(r.Ingredients) == 0 {
		missing = append(missing, "ingredients")
	}
	if len(r.Steps) == 0 {
		missing = append(missing, "recipe")
	}
	return missing
}

func (r *Record) fillDefaults() {
	if strings.TrimSpace(r.CookingTime) == "" {
		r.CookingTime = NotSpecified
	}
	if strings.TrimSpace(r.Difficulty) == "" {
		r.Difficulty = NotSpecified
	}
	if strings.TrimSpace(r.Cuisine) == "" {
		r.Cuisine = NotSpecified
	}
}

// metaString decodes an optional metadata field. Numbers keep their literal
// text; any other non-string value is treated as absent.
type metaString string

func (m *metaString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*m = metaString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*m = metaString(n.String())
	}
	return nil
}

// stringList decodes either a JSON array of strings or a single string.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if strings.TrimSpace(single) != "" {
			*l = stringList{single}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = stringList(cleanList(many))
	return nil
}

// Kind is the terminal classification of an extraction.
type Kind string

const (
	KindFood    Kind = "food"
	KindNotFood Kind = "not_food"
)

// Outcome is the successful result of an extraction: either a complete food
// record or a non-food message.
type Outcome struct {
	Kind     Kind    `json:"kind"`
	Record   *Record `json:"record,omitempty"`
	Message  string  `json:"message,omitempty"`
	Strategy string  `json:"strategy"`
}

// IsFood reports whether the outcome carries a recipe.
func (o *Outcome) IsFood() bool {
	return o != nil && o.Kind == KindFood
}

// Result is the persisted unit: one analysis outcome plus the image it was
// produced from. It is written and read as a whole.
type Result struct {
	OperationID  string    `json:"operation_id"`
	Outcome      *Outcome  `json:"outcome"`
	ImageDataURL string    `json:"image_data_url"`
	ImageHash    string    `json:"image_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

// StoredRecipe is a food record kept in the recipe history.
type StoredRecipe struct {
	ImageHash string    `json:"image_hash"`
	Record    *Record   `json:"record"`
	CreatedAt time.Time `json:"created_at"`
}
