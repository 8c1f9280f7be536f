// Пакет policy — единая точка принятия решений о доступе к записям.
// Правила:
//   - анонимную запись может смотреть, скачивать и удалять любой,
//     кто знает её ID;
//   - запись с владельцем удаляет только владелец;
//   - скачивание записи с владельцем запрещено известному чужому
//     пользователю, а в режиме приватных файлов и анонимному;
//   - просмотр метаданных записи с владельцем ограничен только
//     в режиме приватных файлов;
//   - в списке пользователь видит свои записи, аноним — то, что
//     может просмотреть.
package policy

import "github.com/bigkaa/goshare/internal/domain/model"

// Operation — вид действия над записью.
type Operation string

const (
	OpView     Operation = "view"
	OpDownload Operation = "download"
	OpDelete   Operation = "delete"
)

// Caller — идентичность вызывающего. Пустой Subject означает анонима.
type Caller struct {
	Subject string
}

// Anonymous — вызывающий без идентичности.
var Anonymous = Caller{}

// Known сообщает, что идентичность вызывающего известна.
func (c Caller) Known() bool {
	return c.Subject != ""
}

// Decision — результат проверки доступа.
type Decision struct {
	Allowed bool
	// Reason — причина отказа для логов
	Reason string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

// Policy — набор правил доступа.
type Policy struct {
	// PrivateFiles — файлы с владельцем видны и скачиваются только владельцем
	PrivateFiles bool
}

// CanAccess решает, может ли caller выполнить op над entry.
func (p Policy) CanAccess(entry *model.FileEntry, caller Caller, op Operation) Decision {
	if entry.IsAnonymous() {
		return allow()
	}

	isOwner := caller.Known() && entry.OwnedBy(caller.Subject)

	switch op {
	case OpDelete:
		if isOwner {
			return allow()
		}
		return deny("удалять файл может только владелец")

	case OpDownload:
		if isOwner {
			return allow()
		}
		if caller.Known() {
			return deny("файл принадлежит другому пользователю")
		}
		if p.PrivateFiles {
			return deny("файл доступен только владельцу")
		}
		return allow()

	case OpView:
		if isOwner || !p.PrivateFiles {
			return allow()
		}
		return deny("файл доступен только владельцу")
	}

	return deny("неизвестная операция: " + string(op))
}

// ListScope — границы общего списка записей для вызывающего.
type ListScope struct {
	// OwnerID — только записи этого владельца ("" — без фильтра)
	OwnerID string
	// AnonymousOnly — только записи без владельца
	AnonymousOnly bool
}

// ListScope определяет, какие записи caller видит в списке. Известный
// пользователь видит только свои записи. Аноним видит то, что может
// просмотреть: все записи или, в режиме приватных файлов, только анонимные.
func (p Policy) ListScope(caller Caller) ListScope {
	switch {
	case caller.Known():
		return ListScope{OwnerID: caller.Subject}
	case p.PrivateFiles:
		return ListScope{AnonymousOnly: true}
	}
	return ListScope{}
}
