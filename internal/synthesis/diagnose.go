package synthesis

// Diagnosis reports whether the service can synthesize.
type Diagnosis struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ModelAvailable bool   `json:"model_available"`
	ModelLoaded    bool   `json:"model_loaded"`
	VoicesCount    int    `json:"voices_count"`
}

// Diagnose checks model files, then usable voices, then the load state.
// It never loads the model.
func (p *Pipeline) Diagnose() Diagnosis {
	if !p.models.IsAvailable() {
		return Diagnosis{Success: false, Message: "model files not found"}
	}

	count := len(p.voices.Available())
	if count == 0 {
		return Diagnosis{Success: false, Message: "no voice reference audio available", ModelAvailable: true}
	}

	loaded := p.models.IsLoaded()

	message := "IndexTTS2 available (model not loaded)"
	if loaded {
		message = "IndexTTS2 available (model loaded)"
	}

	return Diagnosis{
		Success:        true,
		Message:        message,
		ModelAvailable: true,
		ModelLoaded:    loaded,
		VoicesCount:    count,
	}
}
