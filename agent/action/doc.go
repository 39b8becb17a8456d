// Package action defines the closed vocabulary of agent steps and the
// strict decoder that guards it. Anything that does not decode into one of
// Think, Browse, Click, Type or Finish is coerced to Think by Coerce.
package action
