package keys

import (
	"fmt"

	"github.com/google/uuid"
)

// ValidateServiceID rejects identifiers that cannot address a service.
func ValidateServiceID(service string) error {
	if service == "" {
		return fmt.Errorf("service id is empty")
	}
	return nil
}

func ValidateInvocationID(id uuid.UUID) error {
	if id == uuid.Nil {
		return fmt.Errorf("invocation id is nil")
	}
	return nil
}

func ValidateProducer(p ProducerID) error {
	switch p.Kind {
	case ProducerPartition:
		return nil
	case ProducerIngress:
		if p.Ingress == "" {
			return fmt.Errorf("ingress producer name is empty")
		}
		return nil
	default:
		return fmt.Errorf("unknown producer kind %d", p.Kind)
	}
}

func ValidateStateKey(name, key string, stateKey []byte) error {
	if name == "" {
		return fmt.Errorf("service name is empty")
	}
	if len(stateKey) == 0 {
		return fmt.Errorf("state key is empty")
	}
	return nil
}
