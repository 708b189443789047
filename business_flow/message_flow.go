package businessflow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jaecopzm/trakpilot/app/dto"
	"github.com/jaecopzm/trakpilot/models"
	"github.com/jaecopzm/trakpilot/repository"
	"github.com/jaecopzm/trakpilot/utils"
	"github.com/xuri/excelize/v2"
)

const (
	defaultPageSize  = 20
	maxPageSize      = 100
	detailEventLimit = 200
	exportRowLimit   = 10000
)

// MessageFlow reads the owner's tracked messages and their engagement
type MessageFlow interface {
	ListMessages(ctx context.Context, req *dto.ListMessagesRequest) (*dto.ListMessagesResponse, error)
	GetMessage(ctx context.Context, ownerID uint, trackingID string) (*dto.MessageDetailResponse, error)
	// ExportMessages returns an xlsx workbook with a messages sheet and an events sheet
	ExportMessages(ctx context.Context, req *dto.ListMessagesRequest) (string, []byte, error)
}

type MessageFlowImpl struct {
	messageRepo repository.TrackedMessageRepository
	linkRepo    repository.TrackedLinkRepository
	openRepo    repository.OpenEventRepository
	clickRepo   repository.LinkClickEventRepository
}

func NewMessageFlow(
	messageRepo repository.TrackedMessageRepository,
	linkRepo repository.TrackedLinkRepository,
	openRepo repository.OpenEventRepository,
	clickRepo repository.LinkClickEventRepository,
) MessageFlow {
	return &MessageFlowImpl{
		messageRepo: messageRepo,
		linkRepo:    linkRepo,
		openRepo:    openRepo,
		clickRepo:   clickRepo,
	}
}

func (f *MessageFlowImpl) ListMessages(ctx context.Context, req *dto.ListMessagesRequest) (*dto.ListMessagesResponse, error) {
	filter, err := messageFilter(req)
	if err != nil {
		return nil, err
	}
	page, pageSize := normalizePaging(req.Page, req.PageSize)

	total, err := f.messageRepo.Count(ctx, filter)
	if err != nil {
		return nil, NewBusinessError("LIST_MESSAGES_FAILED", "Failed to count messages", err)
	}
	rows, err := f.messageRepo.ByFilter(ctx, filter, "created_at DESC", pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, NewBusinessError("LIST_MESSAGES_FAILED", "Failed to list messages", err)
	}

	items, err := f.withClickCounts(ctx, rows)
	if err != nil {
		return nil, err
	}
	return &dto.ListMessagesResponse{
		Items:      items,
		Pagination: paginationInfo(total, page, pageSize),
	}, nil
}

func (f *MessageFlowImpl) GetMessage(ctx context.Context, ownerID uint, trackingID string) (*dto.MessageDetailResponse, error) {
	msg, err := f.messageRepo.ByID(ctx, trackingID)
	if err != nil {
		return nil, NewBusinessError("MESSAGE_LOOKUP_FAILED", "Failed to lookup message", err)
	}
	if msg == nil {
		return nil, NewBusinessError("MESSAGE_NOT_FOUND", "Message not found", ErrMessageNotFound)
	}
	if msg.OwnerID != ownerID {
		// indistinguishable from a missing message for other owners
		return nil, NewBusinessError("MESSAGE_NOT_FOUND", "Message not found", ErrMessageNotFound)
	}

	links, err := f.linkRepo.ListByMessage(ctx, msg.ID)
	if err != nil {
		return nil, NewBusinessError("MESSAGE_LOOKUP_FAILED", "Failed to list links", err)
	}
	opens, err := f.openRepo.ListByMessage(ctx, msg.ID, detailEventLimit)
	if err != nil {
		return nil, NewBusinessError("MESSAGE_LOOKUP_FAILED", "Failed to list opens", err)
	}
	clicks, err := f.clickRepo.ListByMessage(ctx, msg.ID, detailEventLimit)
	if err != nil {
		return nil, NewBusinessError("MESSAGE_LOOKUP_FAILED", "Failed to list clicks", err)
	}

	out := &dto.MessageDetailResponse{
		Message: ToTrackedMessageDTO(msg),
		Links:   make([]dto.TrackedLinkDTO, 0, len(links)),
		Opens:   make([]dto.OpenEventDTO, 0, len(opens)),
		Clicks:  make([]dto.ClickEventDTO, 0, len(clicks)),
	}
	out.Message.ClickCount = int64(len(clicks))
	for _, l := range links {
		out.Links = append(out.Links, dto.TrackedLinkDTO{Code: l.Code, OriginalURL: l.OriginalURL})
	}
	for _, o := range opens {
		out.Opens = append(out.Opens, dto.OpenEventDTO{
			IP:        o.IP,
			UserAgent: o.UserAgent,
			Location:  o.Location,
			Device:    o.Device,
			IsProxy:   o.IsProxy,
			At:        o.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	for _, c := range clicks {
		out.Clicks = append(out.Clicks, dto.ClickEventDTO{
			URL:       c.URL,
			IP:        c.IP,
			UserAgent: c.UserAgent,
			Location:  c.Location,
			IsProxy:   c.IsProxy,
			At:        c.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out, nil
}

func (f *MessageFlowImpl) ExportMessages(ctx context.Context, req *dto.ListMessagesRequest) (string, []byte, error) {
	filter, err := messageFilter(req)
	if err != nil {
		return "", nil, err
	}
	rows, err := f.messageRepo.ByFilter(ctx, filter, "created_at DESC", exportRowLimit, 0)
	if err != nil {
		return "", nil, NewBusinessError("EXPORT_MESSAGES_FAILED", "Failed to list messages", err)
	}
	items, err := f.withClickCounts(ctx, rows)
	if err != nil {
		return "", nil, err
	}

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	const messagesSheet = "messages"
	xl.SetSheetName(xl.GetSheetName(0), messagesSheet)
	header := []string{"tracking_id", "recipient", "subject", "status", "source", "open_count", "click_count", "heat_score", "opened_at", "sent_at", "created_at"}
	_ = xl.SetSheetRow(messagesSheet, "A1", &header)
	for ri, m := range items {
		record := []any{
			m.TrackingID,
			m.Recipient,
			m.Subject,
			m.Status,
			m.Source,
			m.OpenCount,
			m.ClickCount,
			m.HeatScore,
			utils.Deref(m.OpenedAt),
			utils.Deref(m.SentAt),
			m.CreatedAt,
		}
		cellRef, _ := excelize.CoordinatesToCellName(1, ri+2)
		_ = xl.SetSheetRow(messagesSheet, cellRef, &record)
	}

	const eventsSheet = "events"
	if _, err := xl.NewSheet(eventsSheet); err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to create events sheet", err)
	}
	eventHeader := []string{"tracking_id", "kind", "url", "ip", "location", "device", "is_proxy", "at"}
	_ = xl.SetSheetRow(eventsSheet, "A1", &eventHeader)
	next := 2
	for _, m := range rows {
		if !m.Tracked {
			continue
		}
		opens, err := f.openRepo.ListByMessage(ctx, m.ID, detailEventLimit)
		if err != nil {
			return "", nil, NewBusinessError("EXPORT_MESSAGES_FAILED", "Failed to list opens", err)
		}
		for _, o := range opens {
			record := []string{m.ID, "open", "", o.IP, o.Location, o.Device, strconv.FormatBool(o.IsProxy), o.CreatedAt.UTC().Format(time.RFC3339)}
			cellRef, _ := excelize.CoordinatesToCellName(1, next)
			_ = xl.SetSheetRow(eventsSheet, cellRef, &record)
			next++
		}
		clicks, err := f.clickRepo.ListByMessage(ctx, m.ID, detailEventLimit)
		if err != nil {
			return "", nil, NewBusinessError("EXPORT_MESSAGES_FAILED", "Failed to list clicks", err)
		}
		for _, c := range clicks {
			record := []string{m.ID, "click", c.URL, c.IP, c.Location, "", strconv.FormatBool(c.IsProxy), c.CreatedAt.UTC().Format(time.RFC3339)}
			cellRef, _ := excelize.CoordinatesToCellName(1, next)
			_ = xl.SetSheetRow(eventsSheet, cellRef, &record)
			next++
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}
	filename := fmt.Sprintf("engagement_%d.xlsx", req.OwnerID)
	return filename, buf.Bytes(), nil
}

func (f *MessageFlowImpl) withClickCounts(ctx context.Context, rows []*models.TrackedMessage) ([]dto.TrackedMessageDTO, error) {
	ids := make([]string, 0, len(rows))
	for _, m := range rows {
		ids = append(ids, m.ID)
	}
	clicks, err := f.clickRepo.CountByMessageIDs(ctx, ids)
	if err != nil {
		return nil, NewBusinessError("LIST_MESSAGES_FAILED", "Failed to count clicks", err)
	}
	items := make([]dto.TrackedMessageDTO, 0, len(rows))
	for _, m := range rows {
		item := ToTrackedMessageDTO(m)
		item.ClickCount = clicks[m.ID]
		items = append(items, item)
	}
	return items, nil
}

func messageFilter(req *dto.ListMessagesRequest) (models.TrackedMessageFilter, error) {
	filter := models.TrackedMessageFilter{OwnerID: &req.OwnerID}
	if req.StartDate != nil && req.EndDate != nil && req.StartDate.After(*req.EndDate) {
		return filter, NewBusinessError("INVALID_DATE_RANGE", "start_date must be before end_date", ErrStartDateAfterEndDate)
	}
	if req.Status != nil && *req.Status != "" {
		status := models.MessageStatus(*req.Status)
		if status.Valid() {
			filter.Status = &status
		}
	}
	if req.Recipient != nil && strings.TrimSpace(*req.Recipient) != "" {
		recipient := utils.NormalizeEmail(*req.Recipient)
		filter.Recipient = &recipient
	}
	filter.MinHeatScore = req.MinHeatScore
	filter.Opened = req.Opened
	filter.CreatedAfter = req.StartDate
	filter.CreatedBefore = req.EndDate
	return filter, nil
}

func normalizePaging(page, pageSize int) (int, int) {
	page = max(1, page)
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

func paginationInfo(total int64, page, pageSize int) dto.PaginationInfo {
	return dto.PaginationInfo{
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: int((total + int64(pageSize) - 1) / int64(pageSize)),
	}
}
