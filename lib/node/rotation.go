package node

import (
	"context"
	"time"

	"github.com/go-i2p/logger"
)

// rotationCheckDivisor sets how often, relative to the rotation interval,
// the secret's age is checked.
const rotationCheckDivisor = 4

func (n *Node) rotationLoop(ctx context.Context) {
	period := n.onion.RotationInterval() / rotationCheckDivisor
	if period <= 0 {
		period = n.onion.RotationInterval()
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rotated, err := n.onion.MaybeRotate()
			if err != nil {
				log.WithError(err).WithField("at", "(Node) rotationLoop").Error("secret rotation failed")
				continue
			}
			if rotated {
				n.metrics.SecretRotated()
				log.WithFields(logger.Fields{
					"at":         "(Node) rotationLoop",
					"rotated_at": n.onion.RotatedAt(),
				}).Debug("rotated return tag secret")
			}
		}
	}
}
