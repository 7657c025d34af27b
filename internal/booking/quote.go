package booking

import "context"

// Quote prices a prospective booking the same way Book would, without
// checking inventory or persisting anything.
func (s *Service) Quote(ctx context.Context, req Request) (*Pricing, error) {
	p, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.price(ctx, p)
}
