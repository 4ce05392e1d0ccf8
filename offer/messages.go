package offer

import (
	"strconv"

	"offerflow/notify"
	"offerflow/pricing"
	"offerflow/property"
	"offerflow/verification"
)

const dateLayout = "2 Jan 2006"

func contactRecipient(audience notify.Audience, c property.Contact) notify.Recipient {
	return notify.Recipient{
		Audience:       audience,
		Name:           c.Name,
		Email:          c.Email,
		TelegramChatID: c.TelegramChatID,
	}
}

func offerData(o Offer, p property.Property) map[string]string {
	return map[string]string{
		"offer_id":       o.ID,
		"property_title": p.Title,
		"buyer_name":     o.Buyer.Name,
		"buyer_email":    o.Buyer.Email,
		"buyer_message":  o.Buyer.Message,
		"amount":         pricing.FormatLike(p.DisplayPrice, o.OfferAmount),
		"asking_price":   pricing.FormatLike(p.DisplayPrice, o.AskingPriceAtOffer),
		"percentage":     strconv.FormatFloat(o.PercentageOfAsking, 'f', -1, 64),
		"expires_at":     o.ExpiresAt.UTC().Format(dateLayout),
	}
}

func (s *Service) ownerMessage(t notify.Template, o Offer, p property.Property, extra map[string]string) notify.Message {
	return newMessage(t, o, p, contactRecipient(notify.AudienceOwner, s.properties.OwnerContact(p)), extra)
}

func (s *Service) operatorMessage(t notify.Template, o Offer, p property.Property) notify.Message {
	return newMessage(t, o, p, s.cfg.Operator, nil)
}

func (s *Service) buyerMessage(t notify.Template, o Offer, p property.Property, extra map[string]string) notify.Message {
	r := notify.Recipient{Audience: notify.AudienceBuyer, Name: o.Buyer.Name, Email: o.Buyer.Email}
	return newMessage(t, o, p, r, extra)
}

func newMessage(t notify.Template, o Offer, p property.Property, r notify.Recipient, extra map[string]string) notify.Message {
	data := offerData(o, p)
	for k, v := range extra {
		data[k] = v
	}
	return notify.Message{Template: t, OfferID: o.ID, Recipient: r, Data: data}
}

func identitySummary(report verification.Report, needsReview bool) map[string]string {
	note := "The details look complete. Confirm the buyer's identity before accepting."
	if needsReview {
		note = "Some details could not be read or look inconsistent; please review the document."
	}
	nationality := report.Fields.Nationality
	if nationality == "" {
		nationality = report.Fields.IssuingCountry
	}
	return map[string]string{
		"holder_name": report.Fields.Name(),
		"nationality": nationality,
		"confidence":  strconv.FormatFloat(report.Confidence*100, 'f', 0, 64) + "%",
		"review_note": note,
	}
}
