package rules

// defaultRulesYAML is the built-in rule set. A rules file configured at
// startup replaces it entirely.
const defaultRulesYAML = `
rules:
  # Mirrored relationship halves. The initiator writes both halves as
  # pending. Either participant, the initiator or an admin may change a
  # half, but nobody may rewrite who it belongs to, and the initiator may
  # not be the one to accept it.
  - match: users/{userId}/connections/{docId}
    allow:
      read:
        - [path_var_is_auth:userId]
        - [resource_field_is_auth:counterpartUserId]
        - [resource_missing, doc_id_prefixed_by_auth]
        - [admin]
      list:
        - [path_var_is_auth:userId]
        - [resource_field_is_auth:counterpartUserId]
        - [admin]
      create:
        - [request_field_is_auth:initiatorUserId, doc_id_prefixed_by_auth, path_var_is_auth:userId, request_field_is_path_var:ownerUserId=userId, request_field_equals:status=pending]
        - [request_field_is_auth:initiatorUserId, doc_id_prefixed_by_auth, request_field_is_auth:counterpartUserId, request_field_is_path_var:ownerUserId=userId, request_field_equals:status=pending]
        - [admin]
      update:
        - [path_var_is_auth:userId, resource_field_is_not_auth:initiatorUserId, field_unchanged:ownerUserId, field_unchanged:counterpartUserId, field_unchanged:initiatorUserId]
        - [resource_field_is_auth:counterpartUserId, resource_field_is_not_auth:initiatorUserId, field_unchanged:ownerUserId, field_unchanged:counterpartUserId, field_unchanged:initiatorUserId]
        - [resource_field_is_auth:initiatorUserId, field_unchanged:ownerUserId, field_unchanged:counterpartUserId, field_unchanged:initiatorUserId, field_unchanged:status]
        - [resource_field_is_auth:initiatorUserId, field_unchanged:ownerUserId, field_unchanged:counterpartUserId, field_unchanged:initiatorUserId, request_field_not_equals:status=accepted]
        - [admin]
      delete:
        - [path_var_is_auth:userId]
        - [resource_field_is_auth:counterpartUserId]
        - [resource_field_is_auth:initiatorUserId]
        - [admin]

  - match: trades/{tradeId}
    allow:
      read:
        - [authenticated]
      list:
        - [authenticated]
      create:
        - [request_field_is_auth:creatorId]
      update:
        - [resource_field_is_auth:creatorId, field_unchanged:creatorId]
        - [resource_field_is_auth:participantId, field_unchanged:creatorId, field_unchanged:participantId]
        - [admin]
      delete:
        - [resource_field_is_auth:creatorId]
        - [admin]

  # Proposal IDs are {proposerId}_{tradeId}, so a proposer may probe for and
  # create their own proposal before it exists.
  - match: trades/{tradeId}/proposals/{proposalId}
    allow:
      read:
        - [resource_field_is_auth:proposerUserId]
        - [parent_field_is_auth:creatorId]
        - [resource_missing, doc_id_prefixed_by_auth]
        - [admin]
      list:
        - [resource_field_is_auth:proposerUserId]
        - [parent_field_is_auth:creatorId]
        - [admin]
      create:
        - [request_field_is_auth:proposerUserId, doc_id_prefixed_by_auth]
      update:
        - [parent_field_is_auth:creatorId, field_unchanged:proposerUserId]
        - [admin]

  - match: users/{userId}/proposals/{proposalId}
    allow:
      read:
        - [path_var_is_auth:userId]
        - [resource_field_is_auth:tradeCreatorId]
        - [resource_missing, doc_id_prefixed_by_auth]
        - [admin]
      list:
        - [path_var_is_auth:userId]
        - [admin]
      create:
        - [path_var_is_auth:userId, request_field_is_auth:proposerUserId, doc_id_prefixed_by_auth]
      update:
        - [resource_field_is_auth:tradeCreatorId, field_unchanged:proposerUserId]
        - [admin]

  - match: challenges/{challengeId}
    allow:
      read:
        - [authenticated]
      list:
        - [authenticated]
      create:
        - [request_field_is_auth:creatorId]
      update:
        - [resource_field_is_auth:creatorId, field_unchanged:creatorId]
        - [admin]

  # Participation records are keyed {userId}_{challengeId}. Joining reads the
  # not-yet-existing record inside a transaction, which only the ID prefix
  # can authorize.
  - match: userChallenges/{docId}
    allow:
      read:
        - [resource_field_is_auth:userId]
        - [resource_missing, doc_id_prefixed_by_auth]
        - [admin]
      list:
        - [resource_field_is_auth:userId]
        - [admin]
      create:
        - [request_field_is_auth:userId, doc_id_prefixed_by_auth]
      update:
        - [resource_field_is_auth:userId, field_unchanged:userId]
        - [admin]

  - match: outbox/{eventId}
    allow:
      create:
        - [authenticated]
      read:
        - [admin]
      list:
        - [admin]
      update:
        - [admin]
      delete:
        - [admin]

  - match: xpTransactions/{txId}
    allow:
      read:
        - [authenticated]
      list:
        - [authenticated]
      create:
        - [service]

  - match: users/{userId}/portfolio/{itemId}
    allow:
      read:
        - [authenticated]
      list:
        - [authenticated]
      create:
        - [service]
      update:
        - [service]
      delete:
        - [path_var_is_auth:userId]
        - [admin]

  - match: users/{userId}/notifications/{notificationId}
    allow:
      read:
        - [path_var_is_auth:userId]
        - [admin]
      list:
        - [path_var_is_auth:userId]
        - [admin]
      create:
        - [service]
      update:
        - [path_var_is_auth:userId]
        - [admin]
      delete:
        - [path_var_is_auth:userId]
        - [admin]
`

// Default returns the built-in rule set.
func Default() *RuleSet {
	rs, err := Parse([]byte(defaultRulesYAML))
	if err != nil {
		panic("rules: invalid built-in rule set: " + err.Error())
	}
	return rs
}

// Load returns the rule set in path, or the built-in one when path is empty.
func Load(path string) (*RuleSet, error) {
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}
