package accounts

func (s *Service) validate(in CreateInput) error {
	if in.Code == "" {
		return ErrCodeRequired
	}
	if in.Name == "" {
		return ErrNameRequired
	}
	if !in.Type.Valid() {
		return ErrInvalidType
	}
	return nil
}
