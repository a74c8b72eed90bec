package model

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Profile holds the personal data a registered user shares with the
// organizers of events they join.
type Profile struct {
	UserID    uuid.UUID `db:"user_id" json:"user_id"`
	FullName  string    `db:"full_name" json:"full_name"`
	CPF       string    `db:"cpf" json:"cpf"`
	Cellphone *string   `db:"cellphone" json:"cellphone,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Normalize trims the name and strips formatting from the document and phone
// numbers. An empty cellphone becomes nil.
func (p *Profile) Normalize() {
	p.FullName = strings.TrimSpace(p.FullName)
	p.CPF = Digits(p.CPF)
	if p.Cellphone != nil {
		phone := Digits(*p.Cellphone)
		if phone == "" {
			p.Cellphone = nil
		} else {
			p.Cellphone = &phone
		}
	}
}

// ParticipantDetails is what an organizer sees about one participant.
// Participants without a profile expose only their display name.
type ParticipantDetails struct {
	ParticipantID    uuid.UUID
	FullName         string
	CPF              *string
	Cellphone        *string
	ProfileCreatedAt *time.Time
	HasProfile       bool
}

func BasicDetails(p *Participant) ParticipantDetails {
	return ParticipantDetails{ParticipantID: p.ID, FullName: p.Name}
}

func ProfileDetails(p *Participant, profile *Profile) ParticipantDetails {
	cpf := profile.CPF
	created := profile.CreatedAt
	return ParticipantDetails{
		ParticipantID:    p.ID,
		FullName:         profile.FullName,
		CPF:              &cpf,
		Cellphone:        profile.Cellphone,
		ProfileCreatedAt: &created,
		HasProfile:       true,
	}
}

// Digits keeps only the decimal digits of s.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r <= unicode.MaxASCII && unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

const cpfLength = 11

// ValidCPF reports whether cpf, digits only, carries valid check digits.
// Sequences of a single repeated digit are rejected.
func ValidCPF(cpf string) bool {
	if len(cpf) != cpfLength {
		return false
	}
	d := make([]int, cpfLength)
	same := true
	for i := range cpf {
		if cpf[i] < '0' || cpf[i] > '9' {
			return false
		}
		d[i] = int(cpf[i] - '0')
		if d[i] != d[0] {
			same = false
		}
	}
	if same {
		return false
	}
	return checkDigit(d[:9]) == d[9] && checkDigit(d[:10]) == d[10]
}

func checkDigit(digits []int) int {
	sum := 0
	weight := len(digits) + 1
	for _, v := range digits {
		sum += v * weight
		weight--
	}
	r := sum * 10 % 11
	if r == 10 {
		return 0
	}
	return r
}
