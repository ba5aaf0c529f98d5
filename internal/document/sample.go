package document

// NewSampleConfig returns the demo session used during local development:
// six animal labels and two seeded boxes.
func NewSampleConfig(imageURL string, width, height int) *SessionConfig {
	deer, penguin := 0, 3
	cfg := &SessionConfig{
		ImageURL:  imageURL,
		ImageSize: []int{width, height},
		LabelList: []string{"deer", "human", "dog", "penguin", "framingo", "teddy bear"},
		BBoxInfo: []BoxInfo{
			{BBox: [4]float64{0, 0, 100, 100}, LabelID: &deer},
			{BBox: [4]float64{10, 20, 50, 150}, LabelID: &penguin},
		},
		UseSpace: true,
	}
	cfg.ApplyDefaults()
	return cfg
}
