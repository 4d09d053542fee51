package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"quote-funnel-service/internal/clients/ghl"
	"quote-funnel-service/internal/funnel"
	"quote-funnel-service/internal/metrics"
	"quote-funnel-service/internal/models"
	"quote-funnel-service/internal/repository"
	"quote-funnel-service/pkg/crypto"
)

const integrationGHL = "ghl"

// CRMService pushes leads into the partner's GoHighLevel account
type CRMService struct {
	client    *ghl.Client
	mappings  *repository.FieldMappingRepository
	encryptor *crypto.Encryptor
	logger    *logrus.Entry
}

// NewCRMService creates a CRM service
func NewCRMService(client *ghl.Client, mappings *repository.FieldMappingRepository, encryptor *crypto.Encryptor, logger *logrus.Logger) *CRMService {
	return &CRMService{
		client:    client,
		mappings:  mappings,
		encryptor: encryptor,
		logger:    logger.WithField("component", "crm"),
	}
}

// SyncLead upserts the lead as a contact and, for new contacts of partners
// with a pipeline, opens an opportunity. Partners without CRM settings are
// skipped.
func (s *CRMService) SyncLead(ctx context.Context, partner *models.Partner, lead *models.Lead, tags ...string) error {
	if !partner.HasCRM() {
		metrics.CRMSyncs.WithLabelValues("skipped").Inc()
		s.logger.WithField("partner_id", partner.ID).Debug("Partner has no CRM settings, skipping sync")
		return nil
	}

	apiKey, err := s.encryptor.Decrypt(partner.GHLAPIKeyEncrypted)
	if err != nil {
		metrics.CRMSyncs.WithLabelValues("failure").Inc()
		return fmt.Errorf("failed to decrypt CRM key: %w", err)
	}

	mapping, err := s.mappings.GetMap(ctx, partner.ID, integrationGHL)
	if err != nil {
		metrics.CRMSyncs.WithLabelValues("failure").Inc()
		return fmt.Errorf("failed to load field mappings: %w", err)
	}

	contact := BuildContact(partner, lead, mapping)
	contact.Tags = append(contact.Tags, tags...)

	partnerKey := partner.ID.String()
	contactID, created, err := s.client.UpsertContact(ctx, partnerKey, apiKey, contact)
	if err != nil {
		metrics.CRMSyncs.WithLabelValues("failure").Inc()
		return fmt.Errorf("contact upsert failed: %w", err)
	}

	if created && partner.HasPipeline() {
		_, err := s.client.CreateOpportunity(ctx, partnerKey, apiKey, &ghl.Opportunity{
			PipelineID:      partner.GHLPipelineID,
			PipelineStageID: partner.GHLPipelineStageID,
			LocationID:      partner.GHLLocationID,
			ContactID:       contactID,
			Name:            fmt.Sprintf("%s - Quote", lead.FullName()),
			Status:          "open",
			Source:          "Quote Funnel",
		})
		if err != nil {
			metrics.CRMSyncs.WithLabelValues("failure").Inc()
			return fmt.Errorf("opportunity create failed: %w", err)
		}
	}

	metrics.CRMSyncs.WithLabelValues("success").Inc()
	s.logger.WithFields(logrus.Fields{
		"partner_id":    partner.ID,
		"submission_id": lead.SubmissionID,
		"created":       created,
	}).Info("Lead synced to CRM")
	return nil
}

// BuildContact projects a lead onto the CRM contact schema. mapping maps our
// field ids (lead attributes or question ids) to CRM custom field ids.
func BuildContact(partner *models.Partner, lead *models.Lead, mapping map[string]string) *ghl.Contact {
	var address models.Address
	if len(lead.Address) > 0 {
		_ = json.Unmarshal(lead.Address, &address)
	}

	contact := &ghl.Contact{
		LocationID: partner.GHLLocationID,
		FirstName:  lead.FirstName,
		LastName:   lead.LastName,
		Email:      lead.Email,
		Phone:      lead.Phone,
		Address1:   strings.TrimSpace(strings.Join([]string{address.Line1, address.Line2}, " ")),
		City:       address.City,
		PostalCode: address.Postcode,
		Source:     "Quote Funnel",
		Tags:       []string{"quote-funnel"},
	}

	attributes := map[string]string{
		"first_name":    lead.FirstName,
		"last_name":     lead.LastName,
		"email":         lead.Email,
		"phone":         lead.Phone,
		"address_line1": address.Line1,
		"city":          address.City,
		"postcode":      address.Postcode,
		"submission_id": lead.SubmissionID.String(),
		"status":        lead.Status,
	}

	var answers map[string]json.RawMessage
	if len(lead.FormAnswers) > 0 {
		_ = json.Unmarshal(lead.FormAnswers, &answers)
	}

	for ourID, externalID := range mapping {
		if externalID == "" {
			continue
		}
		if v, ok := attributes[ourID]; ok {
			if v != "" {
				contact.CustomFields = append(contact.CustomFields, ghl.CustomField{ID: externalID, Value: v})
			}
			continue
		}
		values := funnel.AnswerValues(answers[ourID])
		switch len(values) {
		case 0:
		case 1:
			contact.CustomFields = append(contact.CustomFields, ghl.CustomField{ID: externalID, Value: values[0]})
		default:
			contact.CustomFields = append(contact.CustomFields, ghl.CustomField{ID: externalID, Value: strings.Join(values, ", ")})
		}
	}
	sort.Slice(contact.CustomFields, func(i, j int) bool {
		return contact.CustomFields[i].ID < contact.CustomFields[j].ID
	})

	return contact
}
