package opt

// Scheduler adjusts an optimizer's learning rate as training progresses.
type Scheduler interface {
	// Step advances the schedule by one training step.
	Step()
	GetLR() float64
}

// StepLR decays the learning rate by gamma every stepSize steps.
type StepLR struct {
	optimizer Optimizer
	stepSize  int
	gamma     float64
	lastStep  int
}

// NewStepLR wraps optimizer. A non-positive stepSize disables decay.
func NewStepLR(optimizer Optimizer, stepSize int, gamma float64) *StepLR {
	return &StepLR{
		optimizer: optimizer,
		stepSize:  stepSize,
		gamma:     gamma,
	}
}

func (s *StepLR) Step() {
	s.lastStep++
	if s.stepSize > 0 && s.lastStep%s.stepSize == 0 {
		s.optimizer.SetLearningRate(s.optimizer.LearningRate() * s.gamma)
	}
}

func (s *StepLR) GetLR() float64 {
	return s.optimizer.LearningRate()
}
