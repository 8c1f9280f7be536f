package policy

import (
	"testing"

	"github.com/bigkaa/goshare/internal/domain/model"
)

func ownedBy(owner string) *model.FileEntry {
	return &model.FileEntry{ID: "f", OwnerID: &owner}
}

func TestCanAccess(t *testing.T) {
	anon := &model.FileEntry{ID: "f"}
	alice := Caller{Subject: "alice"}
	bob := Caller{Subject: "bob"}

	tests := []struct {
		name    string
		private bool
		entry   *model.FileEntry
		caller  Caller
		op      Operation
		allowed bool
	}{
		{"анонимная запись: просмотр анонимом", false, anon, Anonymous, OpView, true},
		{"анонимная запись: скачивание чужим", false, anon, bob, OpDownload, true},
		{"анонимная запись: удаление анонимом", false, anon, Anonymous, OpDelete, true},
		{"анонимная запись: удаление в private режиме", true, anon, bob, OpDelete, true},

		{"владелец удаляет", false, ownedBy("alice"), alice, OpDelete, true},
		{"чужой удаляет", false, ownedBy("alice"), bob, OpDelete, false},
		{"аноним удаляет чужое", false, ownedBy("alice"), Anonymous, OpDelete, false},

		{"владелец скачивает", true, ownedBy("alice"), alice, OpDownload, true},
		{"чужой скачивает", false, ownedBy("alice"), bob, OpDownload, false},
		{"аноним скачивает", false, ownedBy("alice"), Anonymous, OpDownload, true},
		{"аноним скачивает в private режиме", true, ownedBy("alice"), Anonymous, OpDownload, false},

		{"чужой смотрит", false, ownedBy("alice"), bob, OpView, true},
		{"чужой смотрит в private режиме", true, ownedBy("alice"), bob, OpView, false},
		{"владелец смотрит в private режиме", true, ownedBy("alice"), alice, OpView, true},

		{"неизвестная операция", false, ownedBy("alice"), alice, Operation("rename"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Policy{PrivateFiles: tt.private}
			d := p.CanAccess(tt.entry, tt.caller, tt.op)
			if d.Allowed != tt.allowed {
				t.Errorf("ожидалось allowed=%v, получено %v (%s)", tt.allowed, d.Allowed, d.Reason)
			}
			if !d.Allowed && d.Reason == "" {
				t.Error("отказ без причины")
			}
		})
	}
}

func TestListScope(t *testing.T) {
	tests := []struct {
		name    string
		private bool
		caller  Caller
		want    ListScope
	}{
		{"пользователь видит свои", false, Caller{Subject: "alice"}, ListScope{OwnerID: "alice"}},
		{"пользователь в private режиме", true, Caller{Subject: "alice"}, ListScope{OwnerID: "alice"}},
		{"аноним видит все", false, Anonymous, ListScope{}},
		{"аноним в private режиме", true, Anonymous, ListScope{AnonymousOnly: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Policy{PrivateFiles: tt.private}
			if got := p.ListScope(tt.caller); got != tt.want {
				t.Errorf("ListScope() = %+v, ожидалось %+v", got, tt.want)
			}
		})
	}
}

// Аноним видит в списке чужую запись ровно тогда, когда может её просмотреть.
func TestListScope_MatchesView(t *testing.T) {
	for _, private := range []bool{false, true} {
		p := Policy{PrivateFiles: private}
		listed := !p.ListScope(Anonymous).AnonymousOnly
		viewable := p.CanAccess(ownedBy("alice"), Anonymous, OpView).Allowed
		if listed != viewable {
			t.Errorf("private=%v: в списке=%v, просмотр=%v", private, listed, viewable)
		}
	}
}
