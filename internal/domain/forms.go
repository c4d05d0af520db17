package domain

// FormValues is the form model of one feature.
type FormValues interface {
	Feature() Feature
	Complete() bool
}

// UserProfile holds the user-profile form.
type UserProfile struct {
	FullName   string `json:"fullName"`
	Email      string `json:"email"`
	Bio        string `json:"bio"`
	IsComplete bool   `json:"isComplete"`
}

func (UserProfile) Feature() Feature { return FeatureUserProfile }
func (p UserProfile) Complete() bool { return p.IsComplete }

// SortingInput holds the sorting-input form.
type SortingInput struct {
	SorterID    string `json:"sorterId"`
	TagSerialNo string `json:"tagSerialNo"`
	IsComplete  bool   `json:"isComplete"`
}

func (SortingInput) Feature() Feature { return FeatureSortingInput }
func (s SortingInput) Complete() bool { return s.IsComplete }

// EmptyForm returns the cleared form of a feature.
func EmptyForm(feature Feature) FormValues {
	if feature == FeatureSortingInput {
		return SortingInput{}
	}
	return UserProfile{}
}

// FormUpdate is emitted whenever the assistant proposes field values.
type FormUpdate struct {
	Feature Feature    `json:"feature"`
	Values  FormValues `json:"values"`
}

// ChatRequest is one outgoing exchange with the agent backend.
type ChatRequest struct {
	Message   string
	History   []ChatTurn
	Form      FormValues
	SessionID string
}

// ChatResponse is the agent backend's answer mapped to the form model.
type ChatResponse struct {
	Message       string
	Action        string
	MissingFields []string
	Form          FormValues
	IsComplete    bool
	SessionID     string
}
