package persistence

import "quickstock/internal/service/inventory/domain"

func toDomainItem(m *InventoryItemModel) *domain.InventoryItem {
	return &domain.InventoryItem{
		ID:            m.ID,
		SKU:           m.SKU,
		StoreID:       m.StoreID,
		CurrentStock:  m.CurrentStock,
		ReservedStock: m.ReservedStock,
		SafetyStock:   m.SafetyStock,
		MaxStock:      m.MaxStock,
		Version:       m.Version,
		LastUpdated:   m.LastUpdated,
	}
}

func fromDomainItem(i *domain.InventoryItem) *InventoryItemModel {
	return &InventoryItemModel{
		ID:            i.ID,
		SKU:           i.SKU,
		StoreID:       i.StoreID,
		CurrentStock:  i.CurrentStock,
		ReservedStock: i.ReservedStock,
		SafetyStock:   i.SafetyStock,
		MaxStock:      i.MaxStock,
		Version:       i.Version,
		LastUpdated:   i.LastUpdated,
	}
}

func toDomainReservation(m *ReservationModel) *domain.Reservation {
	return &domain.Reservation{
		ID:              m.ID,
		InventoryItemID: m.InventoryItemID,
		SKU:             m.SKU,
		StoreID:         m.StoreID,
		OrderReference:  m.OrderReference,
		Quantity:        m.Quantity,
		Status:          m.Status,
		CreatedAt:       m.CreatedAt,
		ExpiresAt:       m.ExpiresAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

func fromDomainReservation(r *domain.Reservation) *ReservationModel {
	return &ReservationModel{
		ID:              r.ID,
		InventoryItemID: r.InventoryItemID,
		SKU:             r.SKU,
		StoreID:         r.StoreID,
		OrderReference:  r.OrderReference,
		Quantity:        r.Quantity,
		Status:          r.Status,
		ExpiresAt:       r.ExpiresAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func toDomainMovement(m *StockMovementModel) domain.StockMovement {
	return domain.StockMovement{
		ID:              m.ID,
		InventoryItemID: m.InventoryItemID,
		MovementType:    m.MovementType,
		Quantity:        m.Quantity,
		ReferenceType:   m.ReferenceType,
		ReferenceID:     m.ReferenceID,
		Reason:          m.Reason,
		CreatedBy:       m.CreatedBy,
		CreatedAt:       m.CreatedAt,
	}
}

func fromDomainMovement(m *domain.StockMovement) *StockMovementModel {
	return &StockMovementModel{
		ID:              m.ID,
		InventoryItemID: m.InventoryItemID,
		MovementType:    m.MovementType,
		Quantity:        m.Quantity,
		ReferenceType:   m.ReferenceType,
		ReferenceID:     m.ReferenceID,
		Reason:          m.Reason,
		CreatedBy:       m.CreatedBy,
		CreatedAt:       m.CreatedAt,
	}
}
