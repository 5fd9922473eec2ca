package core

import (
	"context"
	"errors"
	"log"
	"strconv"
)

// WorkerProcessor consumes order IDs from the queue and reserves stock.
type WorkerProcessor struct {
	orderRepo   OrderRepository
	productRepo ProductRepository
}

func NewWorkerProcessor(orderRepo OrderRepository, productRepo ProductRepository) *WorkerProcessor {
	return &WorkerProcessor{
		orderRepo:   orderRepo,
		productRepo: productRepo,
	}
}

// Process takes an order ID (as string from queue) and runs fulfillment.
// Returns the resulting status and a system-level error (non-nil when the job
// should be retried).
func (p *WorkerProcessor) Process(ctx context.Context, jobID string) (string, error) {
	id, err := strconv.ParseInt(jobID, 10, 64)
	if err != nil {
		return "", err
	}

	order, err := p.orderRepo.AcquirePending(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotPending) {
			// Already picked up by another worker or cancelled; drop the job.
			log.Printf("order %d no longer pending, skipping", id)
			return "", nil
		}
		return "", err
	}

	items, err := p.orderRepo.ListItems(ctx, order.ID)
	if err != nil {
		return "", err
	}

	// Reserve stock item by item. The conditional decrement keeps quantities
	// non-negative under concurrent workers.
	reserved := make([]OrderItem, 0, len(items))
	for _, item := range items {
		if err := p.productRepo.DecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
			if errors.Is(err, ErrInsufficientStock) {
				p.restore(ctx, reserved)
				if markErr := p.orderRepo.MarkStatus(ctx, order.ID, OrderStatusCancelled); markErr != nil {
					log.Printf("failed to cancel order %d: %v", order.ID, markErr)
				}
				log.Printf("order %d cancelled: product %d out of stock", order.ID, item.ProductID)
				return OrderStatusCancelled, nil
			}
			// System error; put the order back so a retry can pick it up.
			p.restore(ctx, reserved)
			if markErr := p.orderRepo.MarkStatus(ctx, order.ID, OrderStatusPending); markErr != nil {
				log.Printf("failed to reset order %d to pending: %v", order.ID, markErr)
			}
			return "", err
		}
		reserved = append(reserved, item)
	}

	log.Printf("order %d processing: %d items reserved", order.ID, len(reserved))
	return OrderStatusProcessing, nil
}

func (p *WorkerProcessor) restore(ctx context.Context, reserved []OrderItem) {
	for _, item := range reserved {
		if err := p.productRepo.RestoreStock(ctx, item.ProductID, item.Quantity); err != nil {
			log.Printf("failed to restore stock for product %d: %v", item.ProductID, err)
		}
	}
}
