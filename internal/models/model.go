package models

// ModelDescriptor is the resolved, immutable description of one ensemble
// member. Every field is populated when the training config is loaded.
type ModelDescriptor struct {
	// Name identifies the member in logs, usually its config directory
	Name string `yaml:"name"`

	// Arch selects the architecture constructor
	Arch string `yaml:"arch"`

	// Normalization is the input variant the model was trained on
	Normalization Normalization `yaml:"normalisation"`

	// DeepSupervision marks models that return auxiliary heads after the primary one
	DeepSupervision bool `yaml:"deep_sup"`

	Width     int     `yaml:"width"`
	NormLayer string  `yaml:"norm_layer"`
	Dropout   float64 `yaml:"dropout"`

	// Checkpoint is the weight file
	Checkpoint string `yaml:"checkpoint"`
}
