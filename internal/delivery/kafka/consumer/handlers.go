package consumer

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/IBM/sarama"
	"github.com/vogiaan1904/runbattle/internal/delivery/kafka"
	"github.com/vogiaan1904/runbattle/internal/models"
	"github.com/vogiaan1904/runbattle/internal/service"
)

// permanent reports errors that redelivery can never fix. Such messages are
// logged and acknowledged.
func permanent(err error) bool {
	return errors.Is(err, service.ErrInvalidKind) ||
		errors.Is(err, service.ErrInvalidTarget) ||
		errors.Is(err, service.ErrNotEnoughRunners) ||
		errors.Is(err, service.ErrAlreadyInBattle)
}

func (c *Consumer) HandleMatchFormed(ctx context.Context, message *sarama.ConsumerMessage) error {
	c.l.Info(ctx, "HandleMatchFormed consumed")

	var e kafka.MatchFormedEvent
	if err := json.Unmarshal(message.Value, &e); err != nil {
		c.l.Errorf(ctx, "delivery.kafka.consumer.handlers.HandleMatchFormed: %v", err)
		return nil
	}

	target := e.TargetDistance
	if target <= 0 {
		target = float64(e.DistanceBucket)
	}

	ps := make([]service.ParticipantInput, 0, len(e.UserIDs))
	for _, uID := range e.UserIDs {
		ps = append(ps, service.ParticipantInput{UserID: uID})
	}

	out, err := c.battleSvc.CreateBattle(ctx, service.CreateBattleInput{
		BattleID:       e.BattleID,
		Kind:           models.BattleKindOnline,
		TargetDistance: target,
		DistanceBucket: e.DistanceBucket,
		Participants:   ps,
	})
	if err != nil {
		if permanent(err) {
			c.l.Warnf(ctx, "delivery.kafka.consumer.handlers.HandleMatchFormed: dropped: %v", err)
			return nil
		}
		c.l.Errorf(ctx, "delivery.kafka.consumer.handlers.HandleMatchFormed: %v", err)
		return err
	}

	if out.Existing {
		c.l.Infof(ctx, "delivery.kafka.consumer.handlers.HandleMatchFormed: battle_id=%s already created, tickets not reissued", out.Battle.ID)
		return nil
	}

	if err := c.mmSvc.IssueTickets(ctx, out.Battle.ID, e.UserIDs); err != nil {
		c.l.Errorf(ctx, "delivery.kafka.consumer.handlers.HandleMatchFormed: %v", err)
		return err
	}

	return nil
}

func (c *Consumer) HandleRecruitClosed(ctx context.Context, message *sarama.ConsumerMessage) error {
	c.l.Info(ctx, "HandleRecruitClosed consumed")

	var e kafka.RecruitClosedEvent
	if err := json.Unmarshal(message.Value, &e); err != nil {
		c.l.Errorf(ctx, "delivery.kafka.consumer.handlers.HandleRecruitClosed: %v", err)
		return nil
	}

	ps := make([]service.ParticipantInput, 0, len(e.Members))
	for _, m := range e.Members {
		ps = append(ps, service.ParticipantInput{UserID: m.UserID, DisplayName: m.DisplayName})
	}

	if _, err := c.battleSvc.CreateBattle(ctx, service.CreateBattleInput{
		BattleID:       e.RecruitID,
		Kind:           models.BattleKindOffline,
		TargetDistance: e.TargetDistance,
		Participants:   ps,
	}); err != nil {
		if permanent(err) {
			c.l.Warnf(ctx, "delivery.kafka.consumer.handlers.HandleRecruitClosed: dropped: %v", err)
			return nil
		}
		c.l.Errorf(ctx, "delivery.kafka.consumer.handlers.HandleRecruitClosed: %v", err)
		return err
	}

	return nil
}
